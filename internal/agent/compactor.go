package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"scout/internal/llm"
	"scout/internal/session"
	"scout/internal/shared/jsonx"
	tokenutil "scout/internal/shared/token"
)

// compactionMargin inflates the token estimate so compaction fires before
// the hard budget is hit.
const compactionMargin = 1.2

// CompactorConfig bounds prompt growth.
type CompactorConfig struct {
	// TokenBudget is the prompt size that triggers compaction.
	TokenBudget int
	// Retention is how many newest messages stay verbatim.
	Retention int
}

// Compactor folds old conversation history into a single summary so the
// prompt stays inside the model's budget. The persisted session history is
// never touched; only the prompt-assembly view shrinks.
type Compactor struct {
	client llm.Client
	config CompactorConfig
}

// NewCompactor builds a compactor over the given model client.
func NewCompactor(client llm.Client, config CompactorConfig) *Compactor {
	if config.TokenBudget <= 0 {
		config.TokenBudget = 96000
	}
	if config.Retention <= 0 {
		config.Retention = 6
	}
	return &Compactor{client: client, config: config}
}

// NeedsCompaction counts the prompt's tokens with a safety margin.
func (c *Compactor) NeedsCompaction(messages []llm.Message) bool {
	total := 0
	for _, m := range messages {
		total += tokenutil.CountTokens(m.Content)
	}
	return float64(total)*compactionMargin > float64(c.config.TokenBudget)
}

// CompactionResult is the outcome of one compaction pass.
type CompactionResult struct {
	// Summary replaces everything before KeepFrom in prompt assembly.
	Summary string
	// KeepFrom indexes the first history message kept verbatim.
	KeepFrom int
}

// Compact summarises all messages older than the retention window.
// Reasoning parts never reach the summary prompt.
func (c *Compactor) Compact(ctx context.Context, history []*session.Message) (*CompactionResult, error) {
	if len(history) <= c.config.Retention {
		return nil, fmt.Errorf("nothing to compact: %d messages within retention %d", len(history), c.config.Retention)
	}
	keepFrom := len(history) - c.config.Retention

	var transcript strings.Builder
	for _, message := range history[:keepFrom] {
		for _, part := range message.Parts {
			switch part.Type {
			case session.PartReasoning:
				continue
			case session.PartTool:
				fmt.Fprintf(&transcript, "[%s] tool %s -> %s\n", message.Role, part.ToolName, clip(part.Result, 300))
			default:
				if part.Text != "" {
					fmt.Fprintf(&transcript, "[%s] %s\n", message.Role, clip(part.Text, 1500))
				}
			}
		}
	}

	response, err := c.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You compress conversation history. Reply with a JSON object {\"summary\": \"...\"} capturing every fact, decision and open thread a future turn could need. No commentary."},
			{Role: "user", Content: transcript.String()},
		},
		Temperature: 0.1,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("summarise history: %w", err)
	}

	var parsed struct {
		Summary string `json:"summary"`
	}
	raw := response.Content
	if err := jsonx.Unmarshal([]byte(raw), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil || jsonx.Unmarshal([]byte(repaired), &parsed) != nil {
			return nil, fmt.Errorf("unparseable compaction summary")
		}
	}
	if parsed.Summary == "" {
		return nil, fmt.Errorf("empty compaction summary")
	}
	return &CompactionResult{Summary: parsed.Summary, KeepFrom: keepFrom}, nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…(truncated)"
}
