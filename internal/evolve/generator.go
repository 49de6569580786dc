// Package evolve is the self-evolution plane: it generates exploration
// questions about a project, guards them against duplication and failure
// storms, drives unattended explorations through the agent loop, and records
// what was learnt.
package evolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	scouterrors "scout/internal/errors"
	"scout/internal/llm"
	"scout/internal/logging"
	"scout/internal/memory"
	"scout/internal/shared/jsonx"
)

// GeneratedQuestion is one candidate exploration question.
type GeneratedQuestion struct {
	Question        string              `json:"question"`
	Type            memory.QuestionType `json:"type"`
	Priority        int                 `json:"priority"`
	Reason          string              `json:"reason,omitempty"`
	SuggestedTools  []string            `json:"suggestedTools,omitempty"`
	ExpectedOutcome string              `json:"expectedOutcome,omitempty"`
}

// GenerateRequest carries the project context one generation round works
// from. RecentQuestions is loaded from the project memory when nil.
type GenerateRequest struct {
	ProjectKey      string
	TechStack       []string
	Domains         []string
	KnowledgeGaps   []string
	DocExcerpts     []string
	RecentQuestions []string
	Count           int
}

// Generator asks the model for new exploration questions, avoiding recent
// ones.
type Generator struct {
	gateway llm.Client
	memory  *memory.Store
	logger  logging.Logger

	// recentWindow bounds how many past questions are fed back for dedup.
	recentWindow int
}

// NewGenerator wires a question generator.
func NewGenerator(gateway llm.Client, memoryStore *memory.Store) *Generator {
	return &Generator{
		gateway:      gateway,
		memory:       memoryStore,
		logger:       logging.NewComponentLogger("QuestionGenerator"),
		recentWindow: 20,
	}
}

const generatorSystemPrompt = `You generate exploration questions that help an autonomous code agent deepen its understanding of a project.
Respond with a JSON object of the form {"questions": [{"question": "...", "type": "...", "priority": 5, "reason": "...", "suggestedTools": ["read_file"], "expectedOutcome": "..."}]}.
Valid types: CODE_STRUCTURE, BUSINESS_LOGIC, DATA_FLOW, DEPENDENCY, CONFIGURATION, ERROR_ANALYSIS, BEST_PRACTICE, DOMAIN_KNOWLEDGE.
Priority is an integer from 1 (lowest) to 10 (highest). Questions must be concrete and answerable by reading the project's files.`

// Generate returns up to req.Count questions for the project, highest
// priority first. Malformed items are dropped; an unusable response is an
// error.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) ([]GeneratedQuestion, error) {
	if req.Count <= 0 {
		return nil, nil
	}

	recent := req.RecentQuestions
	if recent == nil {
		var err error
		recent, err = g.memory.RecentQuestions(req.ProjectKey, g.recentWindow)
		if err != nil {
			g.logger.Warn("Could not load recent questions for %s: %v", req.ProjectKey, err)
		}
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Project: %s\nGenerate %d new exploration questions.\n", req.ProjectKey, req.Count)
	writeList(&prompt, "Known technology stack:", req.TechStack)
	writeList(&prompt, "Known business domains:", req.Domains)
	writeList(&prompt, "Open knowledge gaps to prioritise:", req.KnowledgeGaps)
	writeList(&prompt, "Project documentation excerpts:", req.DocExcerpts)
	writeList(&prompt, "Do not repeat or trivially rephrase these recently explored questions:", recent)

	resp, err := g.gateway.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: generatorSystemPrompt},
			{Role: "user", Content: prompt.String()},
		},
		Temperature: 0.7,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	questions, err := parseQuestions(resp.Content)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Priority > questions[j].Priority
	})
	if len(questions) > req.Count {
		questions = questions[:req.Count]
	}
	return questions, nil
}

func writeList(prompt *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	prompt.WriteString(heading + "\n")
	for _, item := range items {
		prompt.WriteString("- " + item + "\n")
	}
}

func parseQuestions(raw string) ([]GeneratedQuestion, error) {
	var payload struct {
		Questions []struct {
			Question        string   `json:"question"`
			Type            string   `json:"type"`
			Priority        float64  `json:"priority"`
			Reason          string   `json:"reason"`
			SuggestedTools  []string `json:"suggestedTools"`
			ExpectedOutcome string   `json:"expectedOutcome"`
		} `json:"questions"`
	}
	if err := jsonx.Unmarshal([]byte(raw), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, scouterrors.Wrap(scouterrors.KindTransient, "unusable question response", err)
		}
		if err := jsonx.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, scouterrors.Wrap(scouterrors.KindTransient, "unusable question response", err)
		}
	}

	var questions []GeneratedQuestion
	for _, item := range payload.Questions {
		question := strings.TrimSpace(item.Question)
		if question == "" {
			continue
		}
		priority := int(item.Priority)
		if priority < 1 {
			priority = 1
		}
		if priority > 10 {
			priority = 10
		}
		questions = append(questions, GeneratedQuestion{
			Question:        question,
			Type:            memory.ParseQuestionType(item.Type),
			Priority:        priority,
			Reason:          item.Reason,
			SuggestedTools:  item.SuggestedTools,
			ExpectedOutcome: item.ExpectedOutcome,
		})
	}
	return questions, nil
}
