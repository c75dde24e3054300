package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/memcore/pkg/memetic"
	"github.com/harun/memcore/pkg/memory"
)

var (
	ingestSource  string
	ingestPayload string
	ingestJSON    bool
	ingestParent  string
	ingestRelated []string
	ingestLinks   []string
	ingestHints   []string

	searchArchived bool
	searchLimit    int
	searchTypes    []string

	touchImportance float64
	relatedDepth    int
	showVectors     bool

	ingestDirChunk int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store a payload as a memetic unit",
	Long: `Store a payload as a memetic unit and print its id.
Content that is already stored returns the existing unit's id.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

var getCmd = &cobra.Command{
	Use:   "get <unit-id>",
	Short: "Fetch a unit by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var searchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search units across backends",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSearch,
}

var touchCmd = &cobra.Command{
	Use:   "touch <unit-id>",
	Short: "Record an access and adjust importance",
	Args:  cobra.ExactArgs(1),
	RunE:  runTouch,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <unit-id>",
	Short: "Delete a unit from every backend",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var relatedCmd = &cobra.Command{
	Use:   "related <unit-id>",
	Short: "List units linked to a unit",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelated,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show unit, cache and sync statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one governance sweep now",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry writes left divergent across backends",
	Args:  cobra.NoArgs,
	RunE:  runReconcile,
}

var ingestDirCmd = &cobra.Command{
	Use:   "ingest-dir <path>",
	Short: "Ingest the text files under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestDir,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", string(memetic.SourceUserInput), "source of the payload")
	ingestCmd.Flags().StringVar(&ingestPayload, "payload", "", "payload to store")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "parse the payload as JSON")
	ingestCmd.Flags().StringVar(&ingestParent, "parent", "", "id of the unit this one derives from")
	ingestCmd.Flags().StringSliceVar(&ingestRelated, "related", nil, "ids of related units")
	ingestCmd.Flags().StringSliceVar(&ingestLinks, "link", nil, "typed link as type:target[:strength]")
	ingestCmd.Flags().StringSliceVar(&ingestHints, "hint", nil, "context hint as key=value")
	_ = ingestCmd.MarkFlagRequired("payload")

	searchCmd.Flags().BoolVar(&searchArchived, "archived", false, "include archived units")
	searchCmd.Flags().IntVar(&searchLimit, "limit", memory.DefaultSearchLimit, "maximum number of results")
	searchCmd.Flags().StringSliceVar(&searchTypes, "type", nil, "restrict to cognitive types")

	touchCmd.Flags().Float64Var(&touchImportance, "importance", 0, "importance in [0, 1]")
	relatedCmd.Flags().IntVar(&relatedDepth, "depth", 1, "link hops to follow")
	ingestDirCmd.Flags().IntVar(&ingestDirChunk, "chunk-size", 0, "characters per chunk (default from config)")

	for _, c := range []*cobra.Command{getCmd, searchCmd, relatedCmd} {
		c.Flags().BoolVar(&showVectors, "vectors", false, "include semantic vectors in output")
	}

	rootCmd.AddCommand(ingestCmd, getCmd, searchCmd, touchCmd, deleteCmd,
		relatedCmd, statsCmd, sweepCmd, reconcileCmd, ingestDirCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	var payload any = ingestPayload
	if ingestJSON {
		if err := json.Unmarshal([]byte(ingestPayload), &payload); err != nil {
			return fmt.Errorf("invalid JSON payload: %w", err)
		}
	}

	links, err := parseLinks(ingestLinks)
	if err != nil {
		return err
	}
	hints, err := parseHints(ingestHints)
	if err != nil {
		return err
	}

	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := svc.Ingest(ctx, payload, memetic.Source(ingestSource), memory.IngestOptions{
		ParentID:   ingestParent,
		RelatedIDs: ingestRelated,
		Links:      links,
		Context:    hints,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	u, err := svc.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("unit %s not found", args[0])
	}
	return printJSON(cmd.OutOrStdout(), view(u))
}

func runSearch(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	}

	var types []memetic.CognitiveType
	for _, t := range searchTypes {
		ct := memetic.CognitiveType(strings.ToUpper(t))
		if !ct.Valid() {
			return fmt.Errorf("unknown cognitive type %q", t)
		}
		types = append(types, ct)
	}

	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	units := []*memetic.Unit{}
	for u, err := range svc.SearchWith(ctx, text, memory.SearchOptions{
		Limit:           searchLimit,
		IncludeArchived: searchArchived,
		CognitiveTypes:  types,
	}) {
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		units = append(units, view(u))
	}
	return printJSON(cmd.OutOrStdout(), units)
}

func runTouch(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Touch(ctx, args[0], touchImportance); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), args[0])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}

func runRelated(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	related, err := svc.Related(ctx, args[0], relatedDepth)
	if err != nil {
		return err
	}
	units := make([]*memetic.Unit, 0, len(related))
	for _, u := range related {
		units = append(units, view(u))
	}
	return printJSON(cmd.OutOrStdout(), units)
}

func runStats(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func runSweep(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), report)
}

func runIngestDir(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	chunk := cfg.Watch.ChunkSize
	if ingestDirChunk > 0 {
		chunk = ingestDirChunk
	}

	svc, ctx, cleanup, err := openService(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ingester, err := memory.NewFileIngester(svc, args[0], memory.FileOptions{
		Extensions: cfg.Watch.Extensions,
		MaxBytes:   cfg.Watch.MaxBytes,
		ChunkSize:  chunk,
	})
	if err != nil {
		return err
	}

	report, err := ingester.IngestDir(ctx)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), report)
}

// view drops the semantic vector unless --vectors was given.
func view(u *memetic.Unit) *memetic.Unit {
	if showVectors || len(u.SemanticVector) == 0 {
		return u
	}
	c := u.Clone()
	c.SemanticVector = nil
	return c
}

func parseLinks(specs []string) ([]memetic.Link, error) {
	links := make([]memetic.Link, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid link %q, want type:target[:strength]", s)
		}
		link := memetic.Link{Type: parts[0], Target: parts[1]}
		if len(parts) == 3 {
			strength, err := strconv.ParseFloat(parts[2], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid link strength %q: %w", parts[2], err)
			}
			link.Strength = strength
		}
		links = append(links, link)
	}
	return links, nil
}

func parseHints(specs []string) (map[string]any, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	hints := make(map[string]any, len(specs))
	for _, s := range specs {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid hint %q, want key=value", s)
		}
		hints[key] = value
	}
	return hints, nil
}
