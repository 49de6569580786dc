package agent

import (
	"fmt"
	"strings"

	"scout/internal/llm"
	"scout/internal/session"
	"scout/internal/shared/jsonx"
)

// systemHeader is the static part of every system prompt; the tool catalog
// is appended at assembly time.
const systemHeader = `You are an autonomous code analysis agent. You answer questions about a
codebase by calling tools and reading their results.

To call a tool, emit a single JSON object on its own:
{"toolName": "<name>", "parameters": {...}}

Wrap internal deliberation in <thinking>...</thinking>; it is never shown to
the user. When you have enough information, answer in plain text without any
tool call.

Available tools:

`

// BuildSystemPrompt renders the full system message.
func BuildSystemPrompt(catalog string) string {
	return systemHeader + catalog
}

// BuildPrompt converts session history into model messages. Reasoning parts
// are always excluded. When a compaction result is present, messages before
// its boundary are replaced by one summary system message.
func BuildPrompt(catalog string, history []*session.Message, compaction *CompactionResult) []llm.Message {
	messages := []llm.Message{{Role: "system", Content: BuildSystemPrompt(catalog)}}

	start := 0
	if compaction != nil && compaction.KeepFrom <= len(history) {
		start = compaction.KeepFrom
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: "Summary of the earlier conversation:\n" + compaction.Summary,
		})
	}

	for _, message := range history[start:] {
		messages = append(messages, renderMessage(message)...)
	}
	return messages
}

// renderMessage flattens one session message into model turns. Tool parts
// become the assistant's envelope plus a synthetic tool-result turn, in
// emission order.
func renderMessage(message *session.Message) []llm.Message {
	role := "user"
	switch message.Role {
	case session.RoleAssistant:
		role = "assistant"
	case session.RoleSystem:
		role = "system"
	}

	var out []llm.Message
	var text strings.Builder
	flush := func() {
		if text.Len() > 0 {
			out = append(out, llm.Message{Role: role, Content: text.String()})
			text.Reset()
		}
	}

	for _, part := range message.Parts {
		switch part.Type {
		case session.PartReasoning:
			continue
		case session.PartTool:
			envelope, _ := jsonx.Marshal(ToolEnvelope{ToolName: part.ToolName, Parameters: part.Parameters})
			text.WriteString(string(envelope))
			flush()
			out = append(out, llm.Message{Role: "user", Content: renderToolResult(part)})
		case session.PartText, session.PartUser:
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(part.Text)
		}
	}
	flush()
	return out
}

func renderToolResult(part *session.Part) string {
	if part.State == session.ToolError {
		return fmt.Sprintf("Tool %s failed: %s", part.ToolName, part.Error)
	}
	return fmt.Sprintf("Tool %s result:\n%s", part.ToolName, part.Result)
}
