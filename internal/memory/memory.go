// Package memory is the relational side of project knowledge: the
// per-project memory file, durable learning records, and the question-type
// taxonomy shared with the generator.
package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
	"scout/internal/shared/jsonx"
)

// QuestionType classifies what an autonomous question is about.
type QuestionType string

const (
	CodeStructure   QuestionType = "CODE_STRUCTURE"
	BusinessLogic   QuestionType = "BUSINESS_LOGIC"
	DataFlow        QuestionType = "DATA_FLOW"
	Dependency      QuestionType = "DEPENDENCY"
	Configuration   QuestionType = "CONFIGURATION"
	ErrorAnalysis   QuestionType = "ERROR_ANALYSIS"
	BestPractice    QuestionType = "BEST_PRACTICE"
	DomainKnowledge QuestionType = "DOMAIN_KNOWLEDGE"
)

// ParseQuestionType maps a raw string to a known type, falling back to
// BUSINESS_LOGIC for anything unrecognised.
func ParseQuestionType(raw string) QuestionType {
	switch QuestionType(raw) {
	case CodeStructure, BusinessLogic, DataFlow, Dependency,
		Configuration, ErrorAnalysis, BestPractice, DomainKnowledge:
		return QuestionType(raw)
	}
	return BusinessLogic
}

// ExplorationStep is one tool call in an exploration transcript.
type ExplorationStep struct {
	ToolName string         `json:"toolName"`
	Params   map[string]any `json:"params,omitempty"`
	Result   string         `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Failed   bool           `json:"failed,omitempty"`
}

// ExplorationResult is the full outcome of one unattended exploration.
type ExplorationResult struct {
	Question string            `json:"question"`
	Success  bool              `json:"success"`
	Steps    []ExplorationStep `json:"steps"`
	Summary  string            `json:"summary,omitempty"`
}

// HasFailedStep reports whether any exploration step errored.
func (r *ExplorationResult) HasFailedStep() bool {
	for _, step := range r.Steps {
		if step.Failed {
			return true
		}
	}
	return false
}

// LearningRecord is a durable summary of an autonomous exploration.
type LearningRecord struct {
	ID              string       `json:"id"`
	ProjectKey      string       `json:"projectKey"`
	CreatedAt       time.Time    `json:"createdAt"`
	Question        string       `json:"question"`
	QuestionType    QuestionType `json:"questionType"`
	Answer          string       `json:"answer"`
	ExplorationPath []string     `json:"explorationPath,omitempty"`
	Confidence      float64      `json:"confidence"`
	SourceFiles     []string     `json:"sourceFiles,omitempty"`
	RelatedRecords  []string     `json:"relatedRecords,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
	Domain          string       `json:"domain,omitempty"`
	TechStack       []string     `json:"techStack,omitempty"`
	KnowledgeGaps   []string     `json:"knowledgeGaps,omitempty"`
}

// Validate enforces the record invariants.
func (r *LearningRecord) Validate(hadFailedStep bool) error {
	if r.Answer == "" {
		return fmt.Errorf("learning record %s has a blank answer", r.ID)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("learning record %s confidence %.2f outside [0,1]", r.ID, r.Confidence)
	}
	if hadFailedStep && r.Confidence > 0.7 {
		return fmt.Errorf("learning record %s confidence %.2f too high for a failed exploration", r.ID, r.Confidence)
	}
	return nil
}

// EvolutionStatus tracks autonomous-question throughput per project.
type EvolutionStatus struct {
	QuestionsGeneratedToday int       `json:"questionsGeneratedToday"`
	TotalQuestionsExplored  int       `json:"totalQuestionsExplored"`
	LastGeneratedAt         time.Time `json:"lastGeneratedAt"`
}

// ProjectMemory is the per-project relational memory, persisted as
// memory.json in the project directory. TechStack and KnowledgeGaps
// accumulate from learning records and seed the next generation round.
type ProjectMemory struct {
	ProjectKey        string          `json:"projectKey"`
	DomainKnowledge   []string        `json:"domainKnowledge,omitempty"`
	TechStack         []string        `json:"techStack,omitempty"`
	KnowledgeGaps     []string        `json:"knowledgeGaps,omitempty"`
	LearningRecordIDs []string        `json:"learningRecordIds,omitempty"`
	EvolutionStatus   EvolutionStatus `json:"evolutionStatus"`
}

// Store persists project memory and learning records under the project
// directory. All writes are serialised per project.
type Store struct {
	baseDir string
	logger  logging.Logger

	mu       sync.Mutex
	memories map[string]*ProjectMemory
}

// NewStore creates a memory store rooted at baseDir; each project gets
// <baseDir>/<projectKey>/memory.json and records/.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:  baseDir,
		logger:   logging.NewComponentLogger("MemoryStore"),
		memories: make(map[string]*ProjectMemory),
	}
}

func (s *Store) projectDir(projectKey string) string {
	return filepath.Join(s.baseDir, projectKey)
}

func (s *Store) memoryPath(projectKey string) string {
	return filepath.Join(s.projectDir(projectKey), "memory.json")
}

func (s *Store) recordPath(projectKey, recordID string) string {
	return filepath.Join(s.projectDir(projectKey), "records", recordID+".json")
}

// Load returns the project memory, reading it from disk on first access and
// starting empty when no file exists.
func (s *Store) Load(projectKey string) (*ProjectMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(projectKey)
}

func (s *Store) loadLocked(projectKey string) (*ProjectMemory, error) {
	if cached, ok := s.memories[projectKey]; ok {
		return cached, nil
	}
	memory := &ProjectMemory{ProjectKey: projectKey}
	data, err := os.ReadFile(s.memoryPath(projectKey))
	if err == nil {
		if decodeErr := jsonx.Unmarshal(data, memory); decodeErr != nil {
			s.logger.Error("Corrupt memory.json for %s, starting fresh: %v", projectKey, decodeErr)
			memory = &ProjectMemory{ProjectKey: projectKey}
		}
	} else if !os.IsNotExist(err) {
		return nil, scouterrors.Wrap(scouterrors.KindPersistence, "read memory.json", err)
	}
	s.memories[projectKey] = memory
	return memory, nil
}

// Update applies fn to the project memory under the store lock and persists
// the result.
func (s *Store) Update(projectKey string, fn func(memory *ProjectMemory)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	memory, err := s.loadLocked(projectKey)
	if err != nil {
		return err
	}
	fn(memory)
	return s.persistLocked(projectKey, memory)
}

func (s *Store) persistLocked(projectKey string, memory *ProjectMemory) error {
	if err := os.MkdirAll(s.projectDir(projectKey), 0755); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "create project dir", err)
	}
	data, err := jsonx.MarshalIndent(memory, "", "  ")
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode memory", err)
	}
	if err := os.WriteFile(s.memoryPath(projectKey), data, 0644); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "write memory.json", err)
	}
	return nil
}

// SaveRecord writes one learning record and links its id into the project
// memory.
func (s *Store) SaveRecord(record *LearningRecord) error {
	if record.ProjectKey == "" {
		return fmt.Errorf("learning record %s has no project key", record.ID)
	}
	dir := filepath.Dir(s.recordPath(record.ProjectKey, record.ID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "create records dir", err)
	}
	data, err := jsonx.MarshalIndent(record, "", "  ")
	if err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "encode record", err)
	}
	if err := os.WriteFile(s.recordPath(record.ProjectKey, record.ID), data, 0644); err != nil {
		return scouterrors.Wrap(scouterrors.KindPersistence, "write record", err)
	}

	return s.Update(record.ProjectKey, func(memory *ProjectMemory) {
		for _, existing := range memory.LearningRecordIDs {
			if existing == record.ID {
				return
			}
		}
		memory.LearningRecordIDs = append(memory.LearningRecordIDs, record.ID)
	})
}

// GetRecord reads one learning record by id; nil when absent.
func (s *Store) GetRecord(projectKey, recordID string) (*LearningRecord, error) {
	data, err := os.ReadFile(s.recordPath(projectKey, recordID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, scouterrors.Wrap(scouterrors.KindPersistence, "read record", err)
	}
	var record LearningRecord
	if err := jsonx.Unmarshal(data, &record); err != nil {
		return nil, scouterrors.Wrap(scouterrors.KindPersistence, "decode record", err)
	}
	return &record, nil
}

// RecentQuestions returns the questions of the newest count records, newest
// first, for generator deduplication.
func (s *Store) RecentQuestions(projectKey string, count int) ([]string, error) {
	memory, err := s.Load(projectKey)
	if err != nil {
		return nil, err
	}
	ids := memory.LearningRecordIDs
	var questions []string
	for i := len(ids) - 1; i >= 0 && len(questions) < count; i-- {
		record, err := s.GetRecord(projectKey, ids[i])
		if err != nil || record == nil {
			continue
		}
		questions = append(questions, record.Question)
	}
	return questions, nil
}
