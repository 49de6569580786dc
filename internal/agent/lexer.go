// Package agent runs the reason-act loop: it assembles prompts, streams
// model output, lexes the stream into typed parts, dispatches tool calls in
// sub-sessions, and feeds results back until the model produces a terminal
// answer.
package agent

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"scout/internal/shared/jsonx"
)

// Reasoning delimiters the model emits around its internal deliberation.
const (
	reasoningOpen  = "<thinking>"
	reasoningClose = "</thinking>"
)

// ToolEnvelope is one tool call lexed out of the model stream.
type ToolEnvelope struct {
	ToolName   string         `json:"toolName"`
	Parameters map[string]any `json:"parameters"`
}

// LexerSink receives lexed output. Text and reasoning arrive incrementally;
// a tool envelope arrives once, complete.
type LexerSink struct {
	OnText      func(delta string)
	OnReasoning func(delta string)
	OnToolCall  func(envelope ToolEnvelope)
}

type lexMode int

const (
	modeText lexMode = iota
	modeReasoning
	modeCandidate // inside a possible tool-call JSON object
)

// Lexer splits a streamed completion into TEXT, REASONING and tool-call
// segments. Plain text flows through; <thinking> blocks switch to
// reasoning; a balanced JSON object containing toolName becomes a tool
// envelope, anything else braced is passed through as text.
type Lexer struct {
	sink    LexerSink
	mode    lexMode
	pending string
	// candidate JSON scanning state; scanFrom marks how far into pending the
	// previous scan got so a later Feed never recounts consumed bytes.
	scanFrom int
	depth    int
	inString bool
	escaped  bool
}

// NewLexer creates a lexer delivering into sink.
func NewLexer(sink LexerSink) *Lexer {
	return &Lexer{sink: sink}
}

// Feed consumes one stream delta.
func (l *Lexer) Feed(delta string) {
	l.pending += delta
	l.process(false)
}

// Finish flushes buffered input at end of stream. An unterminated candidate
// is repaired and emitted as a tool call when possible, otherwise as text.
func (l *Lexer) Finish() {
	l.process(true)
	switch l.mode {
	case modeCandidate:
		if !l.tryEmitEnvelope(l.pending) {
			l.emitText(l.pending)
		}
	case modeReasoning:
		l.emitReasoning(l.pending)
	default:
		l.emitText(l.pending)
	}
	l.pending = ""
	l.mode = modeText
	l.scanFrom = 0
}

func (l *Lexer) process(final bool) {
	for {
		switch l.mode {
		case modeText:
			if !l.processText(final) {
				return
			}
		case modeReasoning:
			if !l.processReasoning(final) {
				return
			}
		case modeCandidate:
			if !l.processCandidate() {
				return
			}
		}
	}
}

// processText emits leading plain text and transitions on a marker or brace.
// Returns false when no further progress is possible.
func (l *Lexer) processText(final bool) bool {
	markerAt := strings.Index(l.pending, reasoningOpen)
	braceAt := strings.IndexByte(l.pending, '{')

	boundary := -1
	toReasoning := false
	if markerAt >= 0 && (braceAt < 0 || markerAt < braceAt) {
		boundary = markerAt
		toReasoning = true
	} else if braceAt >= 0 {
		boundary = braceAt
	}

	if boundary < 0 {
		// Withhold a possible partial marker at the tail.
		hold := 0
		if !final {
			hold = partialSuffixLen(l.pending, reasoningOpen)
		}
		l.emitText(l.pending[:len(l.pending)-hold])
		l.pending = l.pending[len(l.pending)-hold:]
		return false
	}

	l.emitText(l.pending[:boundary])
	if toReasoning {
		l.pending = l.pending[boundary+len(reasoningOpen):]
		l.mode = modeReasoning
		return true
	}
	l.pending = l.pending[boundary:]
	l.mode = modeCandidate
	l.scanFrom = 0
	l.depth = 0
	l.inString = false
	l.escaped = false
	return true
}

func (l *Lexer) processReasoning(final bool) bool {
	if end := strings.Index(l.pending, reasoningClose); end >= 0 {
		l.emitReasoning(l.pending[:end])
		l.pending = l.pending[end+len(reasoningClose):]
		l.mode = modeText
		return true
	}
	hold := 0
	if !final {
		hold = partialSuffixLen(l.pending, reasoningClose)
	}
	l.emitReasoning(l.pending[:len(l.pending)-hold])
	l.pending = l.pending[len(l.pending)-hold:]
	return false
}

// processCandidate scans for the balanced end of the JSON object, resuming
// where the previous delta left off.
func (l *Lexer) processCandidate() bool {
	for i := l.scanFrom; i < len(l.pending); i++ {
		c := l.pending[i]
		if l.inString {
			switch {
			case l.escaped:
				l.escaped = false
			case c == '\\':
				l.escaped = true
			case c == '"':
				l.inString = false
			}
			continue
		}
		switch c {
		case '"':
			l.inString = true
		case '{':
			l.depth++
		case '}':
			l.depth--
			if l.depth == 0 {
				candidate := l.pending[:i+1]
				l.pending = l.pending[i+1:]
				l.mode = modeText
				l.scanFrom = 0
				if !l.tryEmitEnvelope(candidate) {
					l.emitText(candidate)
				}
				return true
			}
		}
	}
	l.scanFrom = len(l.pending)
	return false
}

// tryEmitEnvelope parses candidate as a tool envelope, repairing malformed
// JSON first. Returns false when it is not a tool call.
func (l *Lexer) tryEmitEnvelope(candidate string) bool {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" || !strings.Contains(trimmed, "toolName") {
		return false
	}
	var envelope ToolEnvelope
	if err := jsonx.Unmarshal([]byte(trimmed), &envelope); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(trimmed)
		if repairErr != nil {
			return false
		}
		if err := jsonx.Unmarshal([]byte(repaired), &envelope); err != nil {
			return false
		}
	}
	if envelope.ToolName == "" {
		return false
	}
	if envelope.Parameters == nil {
		envelope.Parameters = map[string]any{}
	}
	if l.sink.OnToolCall != nil {
		l.sink.OnToolCall(envelope)
	}
	return true
}

func (l *Lexer) emitText(s string) {
	if s != "" && l.sink.OnText != nil {
		l.sink.OnText(s)
	}
}

func (l *Lexer) emitReasoning(s string) {
	if s != "" && l.sink.OnReasoning != nil {
		l.sink.OnReasoning(s)
	}
}

// partialSuffixLen reports the longest proper prefix of marker that is a
// suffix of s.
func partialSuffixLen(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
