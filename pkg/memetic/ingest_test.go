package memetic

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"stop words dropped", "The parser and the lexer", []string{"parser", "lexer"}},
		{"short words dropped", "go is ok but rust", []string{"rust"}},
		{"punctuation split", "cache-miss, promote!", []string{"cache", "miss", "promote"}},
		{"nothing meaningful", "a an of", []string{"general"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractKeywords(tt.text))
		})
	}
}

func TestExtractKeywords_CapsAtTen(t *testing.T) {
	text := strings.Repeat("memory ", 25)
	assert.Len(t, ExtractKeywords(text), 10)
}

func TestClassifyTopic(t *testing.T) {
	assert.Equal(t, "error_handling", ClassifyTopic("Traceback in handler", nil))
	assert.Equal(t, "testing", ClassifyTopic("assert that it works", nil))
	assert.Equal(t, "configuration", ClassifyTopic("deployment environment", nil))
	assert.Equal(t, "kubernetes", ClassifyTopic("kubernetes pods", []string{"kubernetes", "pods"}))
	assert.Equal(t, "general", ClassifyTopic("", nil))
}

func TestInitialConfidence(t *testing.T) {
	empty := InitialConfidence(SourceAgentSelf, "")
	assert.InDelta(t, 0.9*0.8, empty, 1e-9)

	rich := InitialConfidence(SourceAgentSelf, strings.Repeat("substantial words here. ", 60))
	assert.Greater(t, rich, empty)
	assert.LessOrEqual(t, rich, 1.0)

	unknown := InitialConfidence(Source("other"), "")
	assert.InDelta(t, 0.7*0.8, unknown, 1e-9)
}

func TestInitialSalience(t *testing.T) {
	assert.Equal(t, 0.5, InitialSalience(nil))
	assert.Equal(t, 0.5, InitialSalience(map[string]any{"unrelated": true}))
	assert.InDelta(t, 0.7, InitialSalience(map[string]any{HintRecentActivity: 1}), 1e-9)
	assert.InDelta(t, 1.0, InitialSalience(map[string]any{
		HintRecentActivity: 1, HintCurrentTask: 1, HintAgentContext: 1,
	}), 1e-9)
}

func TestDefaultAccessControl_Sensitive(t *testing.T) {
	acl := DefaultAccessControl(SourceUserInput, map[string]any{HintSensitive: true})
	_, public := acl[PrincipalPublic]
	assert.False(t, public)
}
