package evolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	scouterrors "scout/internal/errors"
	"scout/internal/id"
	"scout/internal/llm"
	"scout/internal/logging"
	"scout/internal/memory"
	"scout/internal/shared/jsonx"
	"scout/internal/vector"
)

// Recorder condenses an exploration into a learning record and indexes it.
type Recorder struct {
	gateway  llm.Client
	memory   *memory.Store
	store    *vector.Store
	embedder vector.Embedder
	locks    *vector.ClassLocks
	logger   logging.Logger
}

// NewRecorder wires a learning recorder. store and embedder may be nil,
// which keeps records relational-only.
func NewRecorder(gateway llm.Client, memoryStore *memory.Store, store *vector.Store, embedder vector.Embedder, locks *vector.ClassLocks) *Recorder {
	if locks == nil {
		locks = vector.NewClassLocks()
	}
	return &Recorder{
		gateway:  gateway,
		memory:   memoryStore,
		store:    store,
		embedder: embedder,
		locks:    locks,
		logger:   logging.NewComponentLogger("LearningRecorder"),
	}
}

const recorderSystemPrompt = `You summarise a code-exploration transcript into a durable learning record.
Respond with a JSON object: {"answer": "...", "confidence": 0.0, "sourceFiles": ["..."], "tags": ["..."], "domain": "...", "techStack": ["..."], "knowledgeGaps": ["..."]}.
The answer must state what was actually learnt; confidence is between 0 and 1 and reflects how well the exploration supported the answer.
techStack lists languages, frameworks and libraries the exploration observed; knowledgeGaps lists concrete follow-up questions it could not settle.`

// Summarize turns an exploration result into a validated learning record.
func (r *Recorder) Summarize(ctx context.Context, projectKey string, questionType memory.QuestionType, result *memory.ExplorationResult) (*memory.LearningRecord, error) {
	resp, err := r.gateway.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: recorderSystemPrompt},
			{Role: "user", Content: renderTranscript(result)},
		},
		Temperature: 0.2,
		JSONOnly:    true,
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		Answer        string   `json:"answer"`
		Confidence    float64  `json:"confidence"`
		SourceFiles   []string `json:"sourceFiles"`
		Tags          []string `json:"tags"`
		Domain        string   `json:"domain"`
		TechStack     []string `json:"techStack"`
		KnowledgeGaps []string `json:"knowledgeGaps"`
	}
	if err := jsonx.Unmarshal([]byte(resp.Content), &payload); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(resp.Content)
		if repairErr != nil {
			return nil, scouterrors.Wrap(scouterrors.KindTransient, "unusable summary response", err)
		}
		if err := jsonx.Unmarshal([]byte(repaired), &payload); err != nil {
			return nil, scouterrors.Wrap(scouterrors.KindTransient, "unusable summary response", err)
		}
	}

	hadFailure := result.HasFailedStep()
	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if hadFailure && confidence > 0.7 {
		confidence = 0.7
	}

	var path []string
	for _, step := range result.Steps {
		path = append(path, step.ToolName)
	}
	record := &memory.LearningRecord{
		ID:              id.NewRecordID(),
		ProjectKey:      projectKey,
		CreatedAt:       time.Now(),
		Question:        result.Question,
		QuestionType:    questionType,
		Answer:          strings.TrimSpace(payload.Answer),
		ExplorationPath: path,
		Confidence:      confidence,
		SourceFiles:     payload.SourceFiles,
		Tags:            payload.Tags,
		Domain:          payload.Domain,
		TechStack:       payload.TechStack,
		KnowledgeGaps:   payload.KnowledgeGaps,
	}
	if err := record.Validate(hadFailure); err != nil {
		return nil, scouterrors.Wrap(scouterrors.KindInvalidArgument, "invalid learning record", err)
	}
	return record, nil
}

// Save persists the record relationally, then indexes its question and
// answer as a fragment pair. The pair is added both-or-neither; a failed
// embedding leaves the relational record in place and is only logged.
func (r *Recorder) Save(ctx context.Context, record *memory.LearningRecord) error {
	if err := r.memory.SaveRecord(record); err != nil {
		return err
	}
	r.mergeInsights(record)
	if r.store == nil || r.embedder == nil {
		return nil
	}

	vectors, err := r.embedder.EmbedBatch(ctx, []string{record.Question, record.Answer})
	if err != nil || len(vectors) != 2 {
		r.logger.Warn("Skipping vector index for record %s: %v", record.ID, err)
		return nil
	}

	shared := map[string]string{
		"recordId":     record.ID,
		"projectKey":   record.ProjectKey,
		"questionType": string(record.QuestionType),
	}
	// The pair lands under the class write lock so a concurrent dedup search
	// never observes a half-written record.
	return r.locks.WriteClass(record.ProjectKey, learningClass, func() error {
		r.store.Add(&vector.Fragment{
			ID:       fmt.Sprintf("%s%s:question", questionFragmentPrefix, record.ID),
			Title:    "Q: " + record.Question,
			Content:  record.Question,
			Tags:     record.Tags,
			Metadata: shared,
			Vector:   vectors[0],
		})
		r.store.Add(&vector.Fragment{
			ID:       fmt.Sprintf("%s%s:answer", questionFragmentPrefix, record.ID),
			Title:    "A: " + record.Question,
			Content:  record.Answer,
			Tags:     record.Tags,
			Metadata: shared,
			Vector:   vectors[1],
		})
		return nil
	})
}

// mergeInsights folds the record's observed technologies, domain and open
// gaps into the project memory, where the next generation round reads them.
func (r *Recorder) mergeInsights(record *memory.LearningRecord) {
	if err := r.memory.Update(record.ProjectKey, func(mem *memory.ProjectMemory) {
		if record.Domain != "" {
			mem.DomainKnowledge = mergeUnique(mem.DomainKnowledge, []string{record.Domain}, 50)
		}
		mem.TechStack = mergeUnique(mem.TechStack, record.TechStack, 50)
		mem.KnowledgeGaps = mergeUnique(mem.KnowledgeGaps, record.KnowledgeGaps, 20)
	}); err != nil {
		r.logger.Warn("Insight merge for %s: %v", record.ProjectKey, err)
	}
}

// mergeUnique appends unseen entries and drops the oldest once over max.
func mergeUnique(existing, incoming []string, max int) []string {
	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		seen[item] = true
	}
	for _, item := range incoming {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		existing = append(existing, item)
		seen[item] = true
	}
	if len(existing) > max {
		existing = existing[len(existing)-max:]
	}
	return existing
}

// Checkpoint waits for pending fragment writes and compacts the catalog into
// the durable snapshot, so a restart warms from one read instead of a full
// fragment scan.
func (r *Recorder) Checkpoint() error {
	if r.store == nil {
		return nil
	}
	r.store.Flush()
	return r.store.WriteSnapshot()
}

func renderTranscript(result *memory.ExplorationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExploration steps:\n", result.Question)
	for i, step := range result.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, step.ToolName)
		if step.Failed {
			fmt.Fprintf(&b, " FAILED: %s\n", step.Error)
			continue
		}
		b.WriteString("\n")
		if step.Result != "" {
			b.WriteString(clipText(step.Result, 1500) + "\n")
		}
	}
	if result.Summary != "" {
		fmt.Fprintf(&b, "\nAgent's own summary:\n%s\n", result.Summary)
	}
	return b.String()
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
