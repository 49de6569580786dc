package evolve

import (
	"context"
	"sync"
	"time"

	"scout/internal/agent"
	"scout/internal/config"
	scouterrors "scout/internal/errors"
	"scout/internal/knowledge"
	"scout/internal/logging"
	"scout/internal/memory"
	"scout/internal/session"
)

// DocsIndex supplies project documentation context for question generation.
type DocsIndex interface {
	Query(ctx context.Context, question string, topK int) ([]knowledge.Hit, error)
}

// Evolver drives the background self-evolution loop for one or more
// projects: generate questions, guard them, explore each in an unattended
// sub-session, and record what was learnt.
type Evolver struct {
	config    config.EvolveConfig
	memory    *memory.Store
	generator *Generator
	guard     *Guard
	recorder  *Recorder
	runner    *agent.Runner
	docs      DocsIndex
	logger    logging.Logger
}

// NewEvolver wires the evolution loop.
func NewEvolver(cfg config.EvolveConfig, memoryStore *memory.Store, generator *Generator, guard *Guard, recorder *Recorder, runner *agent.Runner) *Evolver {
	return &Evolver{
		config:    cfg,
		memory:    memoryStore,
		generator: generator,
		guard:     guard,
		recorder:  recorder,
		runner:    runner,
		logger:    logging.NewComponentLogger("Evolver"),
	}
}

// SetDocsIndex attaches the project's documentation index; without one the
// generator works from accumulated memory alone.
func (e *Evolver) SetDocsIndex(docs DocsIndex) {
	e.docs = docs
}

// Run cycles until the context is cancelled, sleeping Interval between
// cycles. The first cycle starts after one interval so a fresh server does
// not immediately burn quota.
func (e *Evolver) Run(ctx context.Context, projectKey, projectRoot string) error {
	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := e.RunCycle(ctx, projectKey, projectRoot); err != nil {
			if scouterrors.IsKind(err, scouterrors.KindCancelled) || ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("Evolution cycle for %s failed: %v", projectKey, err)
		}
	}
}

// RunCycle executes one generate-guard-explore-record cycle.
func (e *Evolver) RunCycle(ctx context.Context, projectKey, projectRoot string) error {
	questions, err := e.generator.Generate(ctx, e.generateRequest(ctx, projectKey))
	if err != nil {
		if ctx.Err() == nil {
			e.guard.RecordFailure(projectKey)
		}
		return err
	}
	e.logger.Info("Generated %d candidate questions for %s", len(questions), projectKey)

	recorded := 0
	for _, question := range questions {
		if ctx.Err() != nil {
			return scouterrors.New(scouterrors.KindCancelled, "evolution cycle cancelled")
		}
		allowed, reason := e.guard.Allow(ctx, projectKey, question.Question)
		if !allowed {
			e.logger.Info("Skipping question (%s): %s", reason, question.Question)
			continue
		}
		if err := e.guard.CountQuestion(projectKey); err != nil {
			e.logger.Warn("Quota bookkeeping for %s: %v", projectKey, err)
		}
		if err := e.exploreAndRecord(ctx, projectKey, projectRoot, question); err != nil {
			if scouterrors.IsKind(err, scouterrors.KindCancelled) {
				return err
			}
			e.guard.RecordFailure(projectKey)
			e.logger.Error("Exploration failed for %q: %v", question.Question, err)
			continue
		}
		e.guard.RecordSuccess(projectKey)
		recorded++
	}

	// Compact what this cycle indexed into the durable snapshot so a restart
	// does not lose it to a cold fragment scan.
	if recorded > 0 {
		if err := e.recorder.Checkpoint(); err != nil {
			e.logger.Warn("Snapshot checkpoint for %s: %v", projectKey, err)
		}
	}
	return nil
}

// generateRequest assembles the context the generator prompts with: the
// project's accumulated memory plus documentation excerpts when an index is
// attached.
func (e *Evolver) generateRequest(ctx context.Context, projectKey string) GenerateRequest {
	req := GenerateRequest{ProjectKey: projectKey, Count: e.config.QuestionsPerCycle}
	if mem, err := e.memory.Load(projectKey); err == nil {
		req.TechStack = mem.TechStack
		req.Domains = mem.DomainKnowledge
		req.KnowledgeGaps = mem.KnowledgeGaps
	} else {
		e.logger.Warn("Memory load for %s: %v", projectKey, err)
	}
	if e.docs != nil {
		hits, err := e.docs.Query(ctx, "project architecture, technology stack and main components", 3)
		if err != nil {
			e.logger.Warn("Docs lookup for %s: %v", projectKey, err)
		}
		for _, hit := range hits {
			req.DocExcerpts = append(req.DocExcerpts, hit.Path+": "+clipText(hit.Content, 400))
		}
	}
	return req
}

// exploreAndRecord runs one question through the agent loop in a fresh
// sub-session and stores the resulting learning record.
func (e *Evolver) exploreAndRecord(ctx context.Context, projectKey, projectRoot string, question GeneratedQuestion) error {
	collector := newStepCollector()
	message, err := e.runner.Process(ctx, agent.Request{
		ProjectKey:  projectKey,
		ProjectRoot: projectRoot,
		UserInput:   question.Question,
	}, collector.observe)
	if err != nil {
		return err
	}

	result := &memory.ExplorationResult{
		Question: question.Question,
		Success:  true,
		Steps:    collector.steps(),
	}
	if terminal := message.TerminalPart(); terminal != nil {
		result.Summary = terminal.Text
	}

	record, err := e.recorder.Summarize(ctx, projectKey, question.Type, result)
	if err != nil {
		return err
	}
	if err := e.recorder.Save(ctx, record); err != nil {
		return err
	}
	e.logger.Info("Recorded learning %s (confidence %.2f) for %q", record.ID, record.Confidence, question.Question)
	return nil
}

// stepCollector folds part emissions into exploration steps. Tool parts
// re-emit on every state change; only the terminal state of each call
// becomes a step.
type stepCollector struct {
	mu      sync.Mutex
	byCall  map[string]int
	ordered []memory.ExplorationStep
}

func newStepCollector() *stepCollector {
	return &stepCollector{byCall: make(map[string]int)}
}

func (c *stepCollector) observe(part *session.Part) {
	if part.Type != session.PartTool {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	step := memory.ExplorationStep{
		ToolName: part.ToolName,
		Params:   part.Parameters,
		Result:   part.Result,
		Error:    part.Error,
		Failed:   part.State == session.ToolError,
	}
	if index, ok := c.byCall[part.CallID]; ok {
		c.ordered[index] = step
		return
	}
	c.byCall[part.CallID] = len(c.ordered)
	c.ordered = append(c.ordered, step)
}

func (c *stepCollector) steps() []memory.ExplorationStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]memory.ExplorationStep(nil), c.ordered...)
}
