package memory

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/memcore/pkg/dedup"
	"github.com/harun/memcore/pkg/memetic"
)

// Context hint keys set on units ingested from files.
const (
	HintFilePath  = "file_path"
	HintFileChunk = "file_chunk"
)

// FileOptions controls which files are ingested and how they are split.
type FileOptions struct {
	// Extensions lists accepted suffixes, lower case with the dot. Empty
	// accepts .md and .txt.
	Extensions []string
	MaxBytes   int64
	ChunkSize  int
	Overlap    int
	Lifespan   memetic.LifespanPolicy
}

func (o *FileOptions) applyDefaults() {
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".md", ".txt"}
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 1 << 20
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		o.Overlap = o.ChunkSize / 20
	}
}

// FileReport summarizes a directory ingestion.
type FileReport struct {
	Files   int `json:"files"`
	Skipped int `json:"skipped"`
	Units   int `json:"units"`
	Failed  int `json:"failed"`
}

// FileIngester turns files under a root directory into file_ingestion
// units. Every chunk of a new file version derives from the chunk at the
// same position in the previous version.
type FileIngester struct {
	svc    *Service
	root   string
	opts   FileOptions
	logger zerolog.Logger

	mu       sync.Mutex
	versions map[string][]fileChunk
}

type fileChunk struct {
	id   string
	hash string
}

// NewFileIngester creates an ingester rooted at root.
func NewFileIngester(svc *Service, root string, opts FileOptions) (*FileIngester, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat ingest root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingest root is not a directory: %s", root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute root path: %w", err)
	}
	opts.applyDefaults()

	return &FileIngester{
		svc:      svc,
		root:     abs,
		opts:     opts,
		logger:   svc.logger.With().Str("root", abs).Logger(),
		versions: make(map[string][]fileChunk),
	}, nil
}

// Root returns the absolute root directory.
func (f *FileIngester) Root() string { return f.root }

// Accepts reports whether path has an accepted extension.
func (f *FileIngester) Accepts(path string) bool {
	return slices.Contains(f.opts.Extensions, strings.ToLower(filepath.Ext(path)))
}

// IngestFile ingests the file at rel, relative to the root, and returns the
// ids of its chunks in order.
func (f *FileIngester) IngestFile(ctx context.Context, rel string) ([]string, error) {
	full, err := ResolvePath(f.root, rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	if info.Size() > f.opts.MaxBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", rel, info.Size(), f.opts.MaxBytes)
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	previous := f.versions[rel]
	f.mu.Unlock()

	chunks := chunkContent(string(content), f.opts.ChunkSize, f.opts.Overlap)
	ids := make([]string, 0, len(chunks))
	version := make([]fileChunk, 0, len(chunks))
	for i, c := range chunks {
		hash, err := dedup.Hash(c.content)
		if err != nil {
			return ids, err
		}
		// An unchanged chunk keeps its unit while that unit is still live.
		if i < len(previous) && previous[i].hash == hash && f.live(ctx, previous[i].id) {
			ids = append(ids, previous[i].id)
			version = append(version, previous[i])
			continue
		}

		opts := IngestOptions{
			Context:  map[string]any{HintFilePath: rel, HintFileChunk: i},
			Lifespan: f.opts.Lifespan,
		}
		if i < len(previous) && previous[i].hash != hash {
			opts.ParentID = previous[i].id
		}
		if i > 0 {
			opts.RelatedIDs = []string{ids[i-1]}
		}
		id, err := f.svc.Ingest(ctx, c.content, memetic.SourceFileIngestion, opts)
		if err != nil {
			return ids, fmt.Errorf("failed to ingest chunk %d of %s: %w", i, rel, err)
		}
		ids = append(ids, id)
		version = append(version, fileChunk{id: id, hash: hash})
	}

	f.mu.Lock()
	f.versions[rel] = version
	f.mu.Unlock()

	f.logger.Debug().Str("file", rel).Int("chunks", len(ids)).Msg("Ingested file")
	return ids, nil
}

func (f *FileIngester) live(ctx context.Context, id string) bool {
	u, err := f.svc.mgr.Get(ctx, id)
	return err == nil && u != nil && u.Live()
}

// Forget drops the version history of rel. Its units stay in memory and
// age out through governance.
func (f *FileIngester) Forget(rel string) {
	f.mu.Lock()
	delete(f.versions, rel)
	f.mu.Unlock()
}

// IngestDir walks the root and ingests every accepted file. Failures are
// counted and the walk continues.
func (f *FileIngester) IngestDir(ctx context.Context) (FileReport, error) {
	var report FileReport
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != f.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.Accepts(path) {
			report.Skipped++
			return nil
		}

		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		ids, err := f.IngestFile(ctx, rel)
		report.Units += len(ids)
		if err != nil {
			f.logger.Warn().Err(err).Str("file", rel).Msg("Failed to ingest file")
			report.Failed++
			return nil
		}
		report.Files++
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", f.root, err)
	}

	f.logger.Info().
		Int("files", report.Files).
		Int("units", report.Units).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("Directory ingestion completed")
	return report, nil
}

// ValidatePath validates that a path is safe to resolve under a root
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if filepath.IsAbs(path) {
		return fmt.Errorf("path must be relative, got absolute path: %s", path)
	}

	cleanPath := filepath.Clean(path)
	if cleanPath != path {
		return fmt.Errorf("path contains invalid components: %s", path)
	}

	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path cannot reference parent directories: %s", path)
	}

	return nil
}

// ResolvePath joins a validated relative path onto basePath.
func ResolvePath(basePath, relativePath string) (string, error) {
	if err := ValidatePath(relativePath); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute base path: %w", err)
	}

	absFull := filepath.Join(absBase, relativePath)
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", relativePath)
	}

	return absFull, nil
}

type chunk struct {
	content     string
	startOffset int
	endOffset   int
}

// chunkContent splits content on line boundaries into chunks of at most
// maxSize bytes, each starting with the last overlap bytes of the previous
// one. A single line longer than maxSize becomes its own chunk.
func chunkContent(content string, maxSize, overlap int) []chunk {
	var chunks []chunk
	lines := strings.Split(content, "\n")

	var current strings.Builder
	startOffset := 0
	currentOffset := 0

	flush := func() {
		if text := strings.TrimSpace(current.String()); text != "" {
			chunks = append(chunks, chunk{content: text, startOffset: startOffset, endOffset: currentOffset})
		}
	}

	for _, line := range lines {
		lineLen := len(line) + 1

		if current.Len() > 0 && current.Len()+lineLen > maxSize {
			flush()

			text := current.String()
			current.Reset()
			if overlap > 0 && len(text) > overlap {
				current.WriteString(text[len(text)-overlap:])
				startOffset = currentOffset - overlap
			} else {
				startOffset = currentOffset
			}
		}

		current.WriteString(line)
		current.WriteString("\n")
		currentOffset += lineLen
	}
	flush()

	return chunks
}
