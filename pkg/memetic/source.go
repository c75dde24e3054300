package memetic

import "github.com/rs/zerolog"

// Source names where a unit came from.
type Source string

const (
	SourceUserInput     Source = "user_input"
	SourceAgentSelf     Source = "agent_self"
	SourceLLMResponse   Source = "llm_response"
	SourceCodeExecution Source = "code_execution"
	SourceTestResult    Source = "test_result"
	SourceErrorLog      Source = "error_log"
	SourceFileIngestion Source = "file_ingestion"
	SourceDocumentation Source = "documentation"
	SourceAPIResponse   Source = "api_response"
	SourceMetricData    Source = "metric_data"
	SourceConfiguration Source = "configuration"
)

// CognitiveType is the memory tier a unit belongs to. It drives routing.
type CognitiveType string

const (
	CognitiveWorking    CognitiveType = "WORKING"
	CognitiveEpisodic   CognitiveType = "EPISODIC"
	CognitiveSemantic   CognitiveType = "SEMANTIC"
	CognitiveProcedural CognitiveType = "PROCEDURAL"
)

// CognitiveTypes lists every tier in routing-table order.
var CognitiveTypes = []CognitiveType{
	CognitiveWorking, CognitiveEpisodic, CognitiveSemantic, CognitiveProcedural,
}

var sourceTypes = map[Source]CognitiveType{
	SourceUserInput:     CognitiveWorking,
	SourceAgentSelf:     CognitiveWorking,
	SourceLLMResponse:   CognitiveWorking,
	SourceCodeExecution: CognitiveEpisodic,
	SourceTestResult:    CognitiveEpisodic,
	SourceErrorLog:      CognitiveEpisodic,
	SourceMetricData:    CognitiveEpisodic,
	SourceFileIngestion: CognitiveSemantic,
	SourceDocumentation: CognitiveSemantic,
	SourceConfiguration: CognitiveSemantic,
	SourceAPIResponse:   CognitiveProcedural,
}

// Known reports whether the classifier has a mapping for s.
func (s Source) Known() bool {
	_, ok := sourceTypes[s]
	return ok
}

// Classify maps a source to its cognitive type. Unknown sources fall back to
// WORKING and the downgrade is logged as a warning.
func Classify(source Source, logger zerolog.Logger) CognitiveType {
	if ct, ok := sourceTypes[source]; ok {
		return ct
	}
	fallback := &ClassificationFallback{Source: source}
	logger.Warn().
		Err(fallback).
		Str("source", string(source)).
		Msg("Classification fallback")
	return CognitiveWorking
}

func (c CognitiveType) Valid() bool {
	for _, known := range CognitiveTypes {
		if c == known {
			return true
		}
	}
	return false
}
