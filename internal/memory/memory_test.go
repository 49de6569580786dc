package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuestionTypeFallsBack(t *testing.T) {
	assert.Equal(t, DataFlow, ParseQuestionType("DATA_FLOW"))
	assert.Equal(t, BusinessLogic, ParseQuestionType("SOMETHING_ELSE"))
	assert.Equal(t, BusinessLogic, ParseQuestionType(""))
}

func TestRecordValidation(t *testing.T) {
	record := &LearningRecord{ID: "r1", Answer: "the answer", Confidence: 0.9}
	require.NoError(t, record.Validate(false))

	// Confidence capped after a failed step.
	require.Error(t, record.Validate(true))
	record.Confidence = 0.6
	require.NoError(t, record.Validate(true))

	record.Answer = ""
	require.Error(t, record.Validate(false))

	record.Answer = "x"
	record.Confidence = 1.5
	require.Error(t, record.Validate(false))
}

func TestLoadStartsEmptyAndUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	memory, err := store.Load("proj")
	require.NoError(t, err)
	assert.Equal(t, "proj", memory.ProjectKey)
	assert.Empty(t, memory.LearningRecordIDs)

	require.NoError(t, store.Update("proj", func(m *ProjectMemory) {
		m.DomainKnowledge = append(m.DomainKnowledge, "payments")
		m.EvolutionStatus.TotalQuestionsExplored = 3
	}))

	reopened := NewStore(dir)
	loaded, err := reopened.Load("proj")
	require.NoError(t, err)
	assert.Equal(t, []string{"payments"}, loaded.DomainKnowledge)
	assert.Equal(t, 3, loaded.EvolutionStatus.TotalQuestionsExplored)
}

func TestSaveRecordLinksIntoMemory(t *testing.T) {
	store := NewStore(t.TempDir())
	record := &LearningRecord{
		ID:           "rec_1",
		ProjectKey:   "proj",
		CreatedAt:    time.Now(),
		Question:     "how do payments flow?",
		QuestionType: DataFlow,
		Answer:       "via the gateway",
		Confidence:   0.8,
	}
	require.NoError(t, store.SaveRecord(record))

	loaded, err := store.GetRecord("proj", "rec_1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "via the gateway", loaded.Answer)

	memory, err := store.Load("proj")
	require.NoError(t, err)
	assert.Equal(t, []string{"rec_1"}, memory.LearningRecordIDs)

	// Saving again does not duplicate the link.
	require.NoError(t, store.SaveRecord(record))
	memory, _ = store.Load("proj")
	assert.Equal(t, []string{"rec_1"}, memory.LearningRecordIDs)
}

func TestGetRecordUnknownIsNil(t *testing.T) {
	store := NewStore(t.TempDir())
	record, err := store.GetRecord("proj", "missing")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRecentQuestionsNewestFirst(t *testing.T) {
	store := NewStore(t.TempDir())
	for i, q := range []string{"first?", "second?", "third?"} {
		require.NoError(t, store.SaveRecord(&LearningRecord{
			ID:         string(rune('a' + i)),
			ProjectKey: "proj",
			Question:   q,
			Answer:     "a",
			Confidence: 0.5,
		}))
	}

	questions, err := store.RecentQuestions("proj", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"third?", "second?"}, questions)
}

func TestExplorationResultFailedStep(t *testing.T) {
	result := &ExplorationResult{Steps: []ExplorationStep{{ToolName: "read_file"}, {ToolName: "grep_file", Failed: true}}}
	assert.True(t, result.HasFailedStep())
	assert.False(t, (&ExplorationResult{}).HasFailedStep())
}
