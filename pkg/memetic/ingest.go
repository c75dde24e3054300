package memetic

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// PrincipalPublic and PrincipalSystem are the principals default policies grant to.
const (
	PrincipalPublic = "public"
	PrincipalSystem = "system"
)

// Context hint keys understood by InitialSalience.
const (
	HintRecentActivity = "recent_activity"
	HintCurrentTask    = "current_task"
	HintAgentContext   = "agent_context"
	HintSensitive      = "sensitive"
)

const maxKeywords = 10

var (
	nonWord   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	stopWords = map[string]struct{}{}
)

func init() {
	for _, w := range strings.Fields(`the and or but in on at to for of with by is are was were be been
		being have has had do does did will would could should may might must can this that these
		those a an as if when where why how`) {
		stopWords[w] = struct{}{}
	}
}

type topicRule struct {
	topic    string
	patterns []string
}

// Evaluated in order; the first matching rule wins.
var topicRules = []topicRule{
	{"error_handling", []string{"error", "exception", "fail", "bug", "traceback", "stack"}},
	{"testing", []string{"test", "assert", "verify", "validate", "unit", "integration", "bdd"}},
	{"code_structure", []string{"function", "class", "method", "code", "implementation", "algorithm"}},
	{"requirements", []string{"require", "spec", "design", "plan", "feature", "user", "story"}},
	{"user_experience", []string{"user", "interface", "ui", "experience", "interaction", "workflow"}},
	{"data_processing", []string{"data", "database", "query", "model", "schema", "migration"}},
	{"configuration", []string{"config", "setting", "parameter", "environment", "deployment"}},
	{"documentation", []string{"doc", "readme", "guide", "tutorial", "example", "reference"}},
}

var sourceConfidence = map[Source]float64{
	SourceUserInput:     0.8,
	SourceAgentSelf:     0.9,
	SourceLLMResponse:   0.7,
	SourceCodeExecution: 0.9,
	SourceTestResult:    0.8,
	SourceFileIngestion: 0.6,
	SourceAPIResponse:   0.8,
	SourceErrorLog:      0.9,
	SourceMetricData:    0.9,
	SourceConfiguration: 0.8,
	SourceDocumentation: 0.7,
}

// PayloadText renders a payload as text for keyword and topic extraction.
func PayloadText(payload any) string {
	switch p := payload.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	case fmt.Stringer:
		return p.String()
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(b)
}

// ExtractKeywords returns up to ten meaningful words in order of appearance,
// or ["general"] when none qualify.
func ExtractKeywords(text string) []string {
	words := strings.Fields(nonWord.ReplaceAllString(strings.ToLower(text), " "))
	keywords := make([]string, 0, maxKeywords)
	for _, w := range words {
		if len([]rune(w)) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		return []string{"general"}
	}
	return keywords
}

// ClassifyTopic assigns a best-effort topic label.
func ClassifyTopic(text string, keywords []string) string {
	lower := strings.ToLower(text)
	for _, rule := range topicRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.topic
			}
		}
	}
	if len(keywords) > 0 {
		return keywords[0]
	}
	return "general"
}

// ContentQuality scores a payload in [0,1] by length, structure and word shape.
func ContentQuality(payload any) float64 {
	text := PayloadText(payload)
	if text == "" {
		return 0
	}
	score := math.Min(1, float64(len(text))/1000) * 0.4

	switch p := payload.(type) {
	case map[string]any:
		if len(p) > 3 {
			score += 0.3
		}
	case []any:
		if len(p) > 5 {
			score += 0.2
		}
	default:
		if strings.ContainsAny(text, "\n.") {
			score += 0.1
		}
	}

	words := strings.Fields(text)
	if len(words) > 10 {
		total := 0
		for _, w := range words {
			total += len(w)
		}
		avg := float64(total) / float64(len(words))
		if avg >= 3 && avg <= 10 {
			score += 0.2
		}
	}
	return math.Min(1, score)
}

// InitialConfidence combines source reliability with content quality.
func InitialConfidence(source Source, payload any) float64 {
	base, ok := sourceConfidence[source]
	if !ok {
		base = 0.7
	}
	return math.Min(1, base*(0.8+ContentQuality(payload)*0.2))
}

// InitialSalience scores relevance from ingestion context hints. Without
// hints the score is neutral.
func InitialSalience(hints map[string]any) float64 {
	score := 0.0
	matched := false
	for key, weight := range map[string]float64{
		HintRecentActivity: 0.2,
		HintCurrentTask:    0.3,
		HintAgentContext:   0.2,
	} {
		if _, ok := hints[key]; ok {
			score += weight
			matched = true
		}
	}
	if !matched {
		return 0.5
	}
	return math.Min(1, 0.5+score)
}

// DefaultAccessControl returns the policy for a new unit. Error logs,
// configuration and anything flagged sensitive are readable only by system.
func DefaultAccessControl(source Source, hints map[string]any) map[string][]Operation {
	acl := map[string][]Operation{
		PrincipalSystem: {OpRead, OpWrite, OpDelete},
	}
	_, sensitive := hints[HintSensitive]
	if source == SourceErrorLog || source == SourceConfiguration || sensitive {
		return acl
	}
	acl[PrincipalPublic] = []Operation{OpRead}
	return acl
}

// Draft carries everything ingestion knows about a unit before it is stored.
type Draft struct {
	Source         Source
	Payload        any
	ContentHash    string
	ParentID       string
	RelatedIDs     []string
	Links          []Link
	Hints          map[string]any
	Lifespan       LifespanPolicy
	AccessControl  map[string][]Operation
	SemanticVector []float32
}

// NewUnit builds a CREATED unit from d, assigning id, cognitive type and the
// ingestion descriptors.
func NewUnit(d Draft, now time.Time, logger zerolog.Logger) *Unit {
	text := PayloadText(d.Payload)
	keywords := ExtractKeywords(text)
	salience := InitialSalience(d.Hints)

	u := &Unit{
		ID:               NewID(now),
		ParentID:         d.ParentID,
		Source:           d.Source,
		CognitiveType:    Classify(d.Source, logger),
		TimestampCreated: now,
		UpdatedAt:        now,
		ContentHash:      d.ContentHash,
		SemanticVector:   d.SemanticVector,
		Keywords:         keywords,
		Topic:            ClassifyTopic(text, keywords),
		Status:           StatusCreated,
		ConfidenceScore:  InitialConfidence(d.Source, d.Payload),
		SalienceScore:    salience,
		SalienceBase:     salience,
		AccessControl:    d.AccessControl,
		Lifespan:         d.Lifespan,
		Payload:          d.Payload,
	}
	if u.AccessControl == nil {
		u.AccessControl = DefaultAccessControl(d.Source, d.Hints)
	}
	if d.ParentID != "" {
		u.AddLink(Link{Target: d.ParentID, Type: LinkDerivesFrom, Strength: 0.8})
	}
	for _, id := range d.RelatedIDs {
		u.AddLink(Link{Target: id, Type: LinkRelatedTo, Strength: 0.6})
	}
	for _, l := range d.Links {
		u.AddLink(l)
	}
	return u
}
