package memetic

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		source Source
		want   CognitiveType
	}{
		{SourceUserInput, CognitiveWorking},
		{SourceLLMResponse, CognitiveWorking},
		{SourceCodeExecution, CognitiveEpisodic},
		{SourceErrorLog, CognitiveEpisodic},
		{SourceMetricData, CognitiveEpisodic},
		{SourceDocumentation, CognitiveSemantic},
		{SourceConfiguration, CognitiveSemantic},
		{SourceAPIResponse, CognitiveProcedural},
	}

	for _, tt := range tests {
		t.Run(string(tt.source), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.source, logger))
		})
	}
}

func TestClassify_UnknownSourceFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	got := Classify(Source("telepathy"), logger)

	assert.Equal(t, CognitiveWorking, got)
	assert.Contains(t, buf.String(), "Classification fallback")
	assert.Contains(t, buf.String(), "telepathy")
	assert.False(t, Source("telepathy").Known())
}
