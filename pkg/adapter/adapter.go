// Package adapter defines the contract every memory backend implements.
//
// Invariants:
// - Get returns (nil, nil) for an absent id; Delete of an absent id succeeds.
// - Search returns a restartable sequence; each range re-runs the query.
// - Failures are reported as *Error naming the backend and operation.
//
// Usage:
//
//	var store adapter.Adapter = memstore.New("scratch")
//	if err := store.Put(ctx, unit); err != nil {
//		return err
//	}
//	for u, err := range store.Search(ctx, adapter.Query{Text: "parser"}) {
//		...
//	}
package adapter

import (
	"context"
	"math"
	"slices"
	"strings"

	"github.com/harun/memcore/pkg/memetic"
)

// Field names a unit attribute a backend can index.
type Field string

const (
	FieldID            Field = "unit_id"
	FieldContentHash   Field = "content_hash"
	FieldStatus        Field = "status"
	FieldCognitiveType Field = "cognitive_type"
	FieldKeywords      Field = "keywords"
	FieldVector        Field = "semantic_vector"
	FieldLinks         Field = "links"
)

// Capabilities describes what a backend can index and what it requires of
// the units written to it.
type Capabilities struct {
	Indexes  []Field
	Requires []Field
}

// Indexed reports whether f is indexed.
func (c Capabilities) Indexed(f Field) bool {
	return slices.Contains(c.Indexes, f)
}

// Accepts reports whether u carries every required field.
func (c Capabilities) Accepts(u *memetic.Unit) bool {
	for _, f := range c.Requires {
		switch f {
		case FieldVector:
			if len(u.SemanticVector) == 0 {
				return false
			}
		case FieldContentHash:
			if u.ContentHash == "" {
				return false
			}
		}
	}
	return true
}

// Query selects units. Empty fields do not constrain the result.
type Query struct {
	Text           string
	Vector         []float32
	ContentHash    string
	Statuses       []memetic.Status
	CognitiveTypes []memetic.CognitiveType
	Limit          int
}

// Adapter is a storage backend.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Put(ctx context.Context, u *memetic.Unit) error
	Get(ctx context.Context, id string) (*memetic.Unit, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q Query) memetic.Seq
	Close() error
}

// StatusCounter is implemented by backends that can count units per status
// without a full scan.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[memetic.Status]int, error)
}

// HealthChecker is implemented by backends with a cheap liveness probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Matches applies the non-similarity constraints of q to u. Backends that
// cannot push a constraint down filter with it after retrieval.
func (q Query) Matches(u *memetic.Unit) bool {
	if q.ContentHash != "" && u.ContentHash != q.ContentHash {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, u.Status) {
		return false
	}
	if len(q.CognitiveTypes) > 0 && !slices.Contains(q.CognitiveTypes, u.CognitiveType) {
		return false
	}
	if q.Text != "" && len(q.Vector) == 0 && !MatchesText(u, q.Text) {
		return false
	}
	return true
}

// MatchesText reports whether every term of text appears in the unit's
// keywords, topic or rendered payload.
func MatchesText(u *memetic.Unit, text string) bool {
	haystack := strings.ToLower(strings.Join(u.Keywords, " ") + " " + u.Topic + " " + memetic.PayloadText(u.Payload))
	for _, term := range strings.Fields(strings.ToLower(text)) {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// FromSlice adapts an eagerly computed result into a Seq. The producer runs
// on every range so the sequence stays restartable.
func FromSlice(produce func() ([]*memetic.Unit, error)) memetic.Seq {
	return func(yield func(*memetic.Unit, error) bool) {
		units, err := produce()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, u := range units {
			if !yield(u, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq memetic.Seq) ([]*memetic.Unit, error) {
	var out []*memetic.Unit
	for u, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Cosine returns the cosine similarity of two equal-length vectors, or 0
// when either has zero magnitude.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LinkTraverser is implemented by backends that index links and can walk
// them without loading every unit.
type LinkTraverser interface {
	Neighbors(ctx context.Context, id string, depth int) ([]string, error)
	Backlinks(ctx context.Context, id string) ([]string, error)
}
