// Package dedup computes content hashes and merges units that share one.
//
// The deduplicator holds no state: uniqueness under concurrency is enforced
// by the synchronization manager's per-hash token, not here.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/harun/memcore/pkg/memetic"
)

// Hash returns the hex sha-256 of the normalized payload. Strings and byte
// slices hash as their raw bytes; everything else as canonical JSON with
// sorted object keys.
func Hash(payload any) (string, error) {
	b, err := Normalize(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Normalize returns the byte form a payload is hashed over.
func Normalize(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		// Re-encode so whitespace and key order do not leak into the hash.
		var v any
		if err := json.Unmarshal(p, &v); err != nil {
			return nil, fmt.Errorf("failed to decode raw payload: %w", err)
		}
		return json.Marshal(v)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}
	return b, nil
}

// Deduplicator merges duplicate units. The zero value is ready to use.
type Deduplicator struct {
	Now func() time.Time
}

func (d *Deduplicator) now() time.Time {
	if d == nil || d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Absorb folds incoming into a copy of existing and returns the survivor.
// Neither argument is modified.
func (d *Deduplicator) Absorb(existing, incoming *memetic.Unit) (*memetic.Unit, error) {
	if existing.ContentHash != incoming.ContentHash {
		return nil, fmt.Errorf("%w: %s vs %s", memetic.ErrHashMismatch, existing.ID, incoming.ID)
	}
	if !existing.Live() {
		return nil, fmt.Errorf("cannot merge into %s unit %s", existing.Status, existing.ID)
	}

	survivor := existing.Clone()
	if incoming.TimestampCreated.Before(survivor.TimestampCreated) {
		survivor.TimestampCreated = incoming.TimestampCreated
	}
	for _, l := range incoming.Links {
		if l.Target == survivor.ID {
			continue
		}
		survivor.AddLink(l)
	}
	survivor.AccessControl = unionACL(survivor.AccessControl, incoming.AccessControl)
	survivor.ConfidenceScore = max(survivor.ConfidenceScore, incoming.ConfidenceScore)
	survivor.SalienceScore = max(survivor.SalienceScore, incoming.SalienceScore)
	survivor.SalienceBase = max(survivor.SalienceBase, incoming.SalienceBase)
	if survivor.SemanticVector == nil {
		survivor.SemanticVector = slices.Clone(incoming.SemanticVector)
	}
	if incoming.Status != memetic.StatusCreated {
		survivor.Provenance = appendUnique(survivor.Provenance, incoming.ID)
	}
	survivor.Provenance = appendUnique(survivor.Provenance, incoming.Provenance...)

	// Re-ingesting archived content brings it back.
	if survivor.Status == memetic.StatusArchived && incoming.Status != memetic.StatusArchived {
		survivor.Status = memetic.StatusActive
	}
	survivor.UpdatedAt = d.now()
	return survivor, nil
}

// Merge folds incoming into existing. It returns the survivor and the
// absorbed unit, which is MERGED and redirects to the survivor.
func (d *Deduplicator) Merge(existing, incoming *memetic.Unit) (survivor, absorbed *memetic.Unit, err error) {
	if existing.ID == incoming.ID {
		return nil, nil, fmt.Errorf("cannot merge unit %s with itself", existing.ID)
	}
	survivor, err = d.Absorb(existing, incoming)
	if err != nil {
		return nil, nil, err
	}
	absorbed = incoming.Clone()
	if err := absorbed.Transition(memetic.StatusMerged); err != nil {
		return nil, nil, err
	}
	absorbed.MergedInto = survivor.ID
	absorbed.UpdatedAt = survivor.UpdatedAt
	return survivor, absorbed, nil
}

// Groups partitions live units by content hash and returns only the groups
// with more than one member. Members are ordered oldest first, so the first
// element is the natural survivor.
func Groups(units []*memetic.Unit) [][]*memetic.Unit {
	byHash := make(map[string][]*memetic.Unit)
	for _, u := range units {
		if u.ContentHash == "" || !u.Live() {
			continue
		}
		byHash[u.ContentHash] = append(byHash[u.ContentHash], u)
	}

	var groups [][]*memetic.Unit
	for _, members := range byHash {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].TimestampCreated.Equal(members[j].TimestampCreated) {
				return members[i].ID < members[j].ID
			}
			return members[i].TimestampCreated.Before(members[j].TimestampCreated)
		})
		groups = append(groups, members)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].ID < groups[j][0].ID })
	return groups
}

func unionACL(a, b map[string][]memetic.Operation) map[string][]memetic.Operation {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string][]memetic.Operation, len(a)+len(b))
	for _, src := range []map[string][]memetic.Operation{a, b} {
		for principal, ops := range src {
			for _, op := range ops {
				if !slices.Contains(out[principal], op) {
					out[principal] = append(out[principal], op)
				}
			}
		}
	}
	return out
}

func appendUnique(dst []string, ids ...string) []string {
	for _, id := range ids {
		if id != "" && !slices.Contains(dst, id) {
			dst = append(dst, id)
		}
	}
	return dst
}
