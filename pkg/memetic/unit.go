package memetic

import (
	"iter"
	"slices"
	"time"
)

// Operation is a permission granted to a principal on a unit.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
)

// Link types assigned during ingestion.
const (
	LinkDerivesFrom = "derives_from"
	LinkRelatedTo   = "related_to"
)

// Link is a typed, directed relationship to another unit by id.
// The target may not exist; links never own their target.
type Link struct {
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength,omitempty"`
}

// LifespanPolicy controls how governance ages a unit.
type LifespanPolicy struct {
	// DecayRate is the fractional salience loss per decay period. Zero means
	// the engine default applies.
	DecayRate    float64       `json:"decay_rate,omitempty"`
	MinRetention time.Duration `json:"min_retention,omitempty"`
	HardExpiry   *time.Time    `json:"hard_expiry,omitempty"`
}

// Unit is a memetic unit.
type Unit struct {
	ID                string                 `json:"unit_id"`
	ParentID          string                 `json:"parent_id,omitempty"`
	Source            Source                 `json:"source"`
	CognitiveType     CognitiveType          `json:"cognitive_type"`
	TimestampCreated  time.Time              `json:"timestamp_created"`
	TimestampAccessed *time.Time             `json:"timestamp_accessed,omitempty"`
	UpdatedAt         time.Time              `json:"updated_at"`
	ContentHash       string                 `json:"content_hash"`
	SemanticVector    []float32              `json:"semantic_vector,omitempty"`
	Keywords          []string               `json:"keywords,omitempty"`
	Topic             string                 `json:"topic,omitempty"`
	Status            Status                 `json:"status"`
	ConfidenceScore   float64                `json:"confidence_score"`
	SalienceScore     float64                `json:"salience_score"`
	SalienceBase      float64                `json:"salience_base"`
	AccessCount       int                    `json:"access_count"`
	AccessControl     map[string][]Operation `json:"access_control,omitempty"`
	Lifespan          LifespanPolicy         `json:"lifespan_policy"`
	Links             []Link                 `json:"links,omitempty"`
	MergedInto        string                 `json:"merged_into,omitempty"`
	Provenance        []string               `json:"provenance,omitempty"`
	Payload           any                    `json:"payload,omitempty"`
}

// Seq is a lazy, restartable sequence of units. Ranging over it a second
// time re-executes the underlying query.
type Seq = iter.Seq2[*Unit, error]

// Clone returns a deep copy of u. The payload is shared and must be treated
// as immutable.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	c := *u
	if u.TimestampAccessed != nil {
		t := *u.TimestampAccessed
		c.TimestampAccessed = &t
	}
	if u.Lifespan.HardExpiry != nil {
		t := *u.Lifespan.HardExpiry
		c.Lifespan.HardExpiry = &t
	}
	c.SemanticVector = slices.Clone(u.SemanticVector)
	c.Keywords = slices.Clone(u.Keywords)
	c.Links = slices.Clone(u.Links)
	c.Provenance = slices.Clone(u.Provenance)
	if u.AccessControl != nil {
		c.AccessControl = make(map[string][]Operation, len(u.AccessControl))
		for principal, ops := range u.AccessControl {
			c.AccessControl[principal] = slices.Clone(ops)
		}
	}
	return &c
}

// AddLink appends a link unless an identical (target, type) pair exists.
// Cycles are allowed.
func (u *Unit) AddLink(l Link) bool {
	for _, existing := range u.Links {
		if existing.Target == l.Target && existing.Type == l.Type {
			return false
		}
	}
	u.Links = append(u.Links, l)
	return true
}

// Neighbors returns the ids this unit links to, in link order.
func (u *Unit) Neighbors() []string {
	ids := make([]string, 0, len(u.Links))
	for _, l := range u.Links {
		ids = append(ids, l.Target)
	}
	return ids
}

// Allows reports whether principal holds op on the unit. A unit without an
// access-control map is open.
func (u *Unit) Allows(principal string, op Operation) bool {
	if len(u.AccessControl) == 0 {
		return true
	}
	for _, p := range []string{principal, PrincipalPublic} {
		if slices.Contains(u.AccessControl[p], op) {
			return true
		}
	}
	return false
}

// Anchor is the instant decay is measured from: the last access, or the
// creation time for a unit never accessed.
func (u *Unit) Anchor() time.Time {
	if u.TimestampAccessed != nil {
		return *u.TimestampAccessed
	}
	return u.TimestampCreated
}

// Expired reports whether the hard expiry has passed at now.
func (u *Unit) Expired(now time.Time) bool {
	return u.Lifespan.HardExpiry != nil && !now.Before(*u.Lifespan.HardExpiry)
}

// Live reports whether the unit still participates in deduplication.
func (u *Unit) Live() bool {
	return u.Status == StatusActive || u.Status == StatusArchived || u.Status == StatusCreated
}
