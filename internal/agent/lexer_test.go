package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lexerCapture struct {
	text      strings.Builder
	reasoning strings.Builder
	calls     []ToolEnvelope
	segments  []string
}

func captureLexer() (*Lexer, *lexerCapture) {
	capture := &lexerCapture{}
	lexer := NewLexer(LexerSink{
		OnText: func(delta string) {
			capture.text.WriteString(delta)
			capture.segments = append(capture.segments, "text")
		},
		OnReasoning: func(delta string) {
			capture.reasoning.WriteString(delta)
			capture.segments = append(capture.segments, "reasoning")
		},
		OnToolCall: func(envelope ToolEnvelope) {
			capture.calls = append(capture.calls, envelope)
			capture.segments = append(capture.segments, "tool")
		},
	})
	return lexer, capture
}

func feedInChunks(lexer *Lexer, input string, chunk int) {
	for start := 0; start < len(input); start += chunk {
		end := start + chunk
		if end > len(input) {
			end = len(input)
		}
		lexer.Feed(input[start:end])
	}
	lexer.Finish()
}

func TestLexerPlainText(t *testing.T) {
	lexer, capture := captureLexer()
	feedInChunks(lexer, "just a plain answer", 4)
	assert.Equal(t, "just a plain answer", capture.text.String())
	assert.Empty(t, capture.calls)
}

func TestLexerReasoningMarkers(t *testing.T) {
	lexer, capture := captureLexer()
	feedInChunks(lexer, "before <thinking>inner thoughts</thinking> after", 3)
	assert.Equal(t, "before  after", capture.text.String())
	assert.Equal(t, "inner thoughts", capture.reasoning.String())
}

func TestLexerMarkerSplitAcrossDeltas(t *testing.T) {
	lexer, capture := captureLexer()
	lexer.Feed("a<thin")
	lexer.Feed("king>hidden</think")
	lexer.Feed("ing>b")
	lexer.Finish()
	assert.Equal(t, "ab", capture.text.String())
	assert.Equal(t, "hidden", capture.reasoning.String())
}

func TestLexerToolEnvelope(t *testing.T) {
	lexer, capture := captureLexer()
	input := `Let me check. {"toolName": "read_file", "parameters": {"relativePath": "main.go"}} done`
	feedInChunks(lexer, input, 5)

	require.Len(t, capture.calls, 1)
	assert.Equal(t, "read_file", capture.calls[0].ToolName)
	assert.Equal(t, "main.go", capture.calls[0].Parameters["relativePath"])
	assert.Equal(t, "Let me check.  done", capture.text.String())
}

func TestLexerNestedJSONInEnvelope(t *testing.T) {
	lexer, capture := captureLexer()
	input := `{"toolName": "grep_file", "parameters": {"pattern": "a{b}", "limit": 3}}`
	feedInChunks(lexer, input, 7)

	require.Len(t, capture.calls, 1)
	assert.Equal(t, "grep_file", capture.calls[0].ToolName)
	assert.Equal(t, "a{b}", capture.calls[0].Parameters["pattern"])
}

func TestLexerEnvelopeSplitInsideString(t *testing.T) {
	lexer, capture := captureLexer()
	// The delta boundary lands between a backslash and the quote it escapes,
	// with an unbalanced brace inside the string value.
	lexer.Feed(`{"toolName": "grep_file", "parameters": {"pattern": "x\`)
	lexer.Feed(`"y{z"}}`)
	lexer.Finish()

	require.Len(t, capture.calls, 1)
	assert.Equal(t, "grep_file", capture.calls[0].ToolName)
	assert.Equal(t, `x"y{z`, capture.calls[0].Parameters["pattern"])
	assert.Empty(t, capture.text.String())
}

func TestLexerBracesInProseStayText(t *testing.T) {
	lexer, capture := captureLexer()
	feedInChunks(lexer, `the struct {Name string} holds data`, 6)
	assert.Empty(t, capture.calls)
	assert.Equal(t, `the struct {Name string} holds data`, capture.text.String())
}

func TestLexerRepairsMalformedEnvelope(t *testing.T) {
	lexer, capture := captureLexer()
	// Trailing comma and single quotes: jsonrepair territory.
	feedInChunks(lexer, `{'toolName': 'find_file', 'parameters': {'pattern': 'main',}}`, 9)
	require.Len(t, capture.calls, 1)
	assert.Equal(t, "find_file", capture.calls[0].ToolName)
}

func TestLexerUnterminatedEnvelopeAtFinish(t *testing.T) {
	lexer, capture := captureLexer()
	lexer.Feed(`{"toolName": "read_file", "parameters": {"relativePath": "a.go"`)
	lexer.Finish()
	require.Len(t, capture.calls, 1)
	assert.Equal(t, "read_file", capture.calls[0].ToolName)
}

func TestLexerEnvelopeWithoutToolNameIsText(t *testing.T) {
	lexer, capture := captureLexer()
	feedInChunks(lexer, `{"key": "value"}`, 4)
	assert.Empty(t, capture.calls)
	assert.Equal(t, `{"key": "value"}`, capture.text.String())
}

func TestLexerMultipleEnvelopesInOrder(t *testing.T) {
	lexer, capture := captureLexer()
	input := `{"toolName": "read_file", "parameters": {}} {"toolName": "grep_file", "parameters": {}}`
	feedInChunks(lexer, input, 8)
	require.Len(t, capture.calls, 2)
	assert.Equal(t, "read_file", capture.calls[0].ToolName)
	assert.Equal(t, "grep_file", capture.calls[1].ToolName)
}

func TestLexerMissingParametersDefaultsEmpty(t *testing.T) {
	lexer, capture := captureLexer()
	feedInChunks(lexer, `{"toolName": "read_file"}`, 50)
	require.Len(t, capture.calls, 1)
	assert.NotNil(t, capture.calls[0].Parameters)
}
