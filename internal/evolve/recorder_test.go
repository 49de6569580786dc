package evolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scout/internal/llm"
	"scout/internal/memory"
	"scout/internal/vector"
)

func explorationFixture(failed bool) *memory.ExplorationResult {
	steps := []memory.ExplorationStep{
		{ToolName: "read_file", Result: "package main"},
		{ToolName: "grep_file", Result: "2 matches"},
	}
	if failed {
		steps = append(steps, memory.ExplorationStep{ToolName: "find_file", Error: "walk failed", Failed: true})
	}
	return &memory.ExplorationResult{
		Question: "What does main.go do?",
		Success:  true,
		Steps:    steps,
		Summary:  "main wires the server",
	}
}

func TestSummarizeBuildsValidRecord(t *testing.T) {
	mock := llm.NewMockClient().
		Respond(`{"answer": "main.go wires the HTTP server", "confidence": 0.9, "sourceFiles": ["main.go"], "tags": ["entrypoint"], "domain": "bootstrap"}`)
	recorder := NewRecorder(mock, memory.NewStore(t.TempDir()), nil, nil, nil)

	record, err := recorder.Summarize(context.Background(), "proj", memory.CodeStructure, explorationFixture(false))
	require.NoError(t, err)
	assert.Equal(t, "proj", record.ProjectKey)
	assert.Equal(t, "What does main.go do?", record.Question)
	assert.Equal(t, "main.go wires the HTTP server", record.Answer)
	assert.Equal(t, 0.9, record.Confidence)
	assert.Equal(t, []string{"read_file", "grep_file"}, record.ExplorationPath)
	assert.Equal(t, memory.CodeStructure, record.QuestionType)

	request := mock.Requests()[0]
	assert.True(t, request.JSONOnly)
	assert.Contains(t, request.Messages[1].Content, "package main")
}

func TestSummarizeCapsConfidenceOnFailedStep(t *testing.T) {
	mock := llm.NewMockClient().
		Respond(`{"answer": "partially understood", "confidence": 0.95}`)
	recorder := NewRecorder(mock, memory.NewStore(t.TempDir()), nil, nil, nil)

	record, err := recorder.Summarize(context.Background(), "proj", memory.DataFlow, explorationFixture(true))
	require.NoError(t, err)
	assert.Equal(t, 0.7, record.Confidence)
}

func TestSummarizeRejectsBlankAnswer(t *testing.T) {
	mock := llm.NewMockClient().Respond(`{"answer": "", "confidence": 0.5}`)
	recorder := NewRecorder(mock, memory.NewStore(t.TempDir()), nil, nil, nil)

	_, err := recorder.Summarize(context.Background(), "proj", memory.DataFlow, explorationFixture(false))
	require.Error(t, err)
}

func TestSaveIndexesQuestionAndAnswerPair(t *testing.T) {
	memStore := memory.NewStore(t.TempDir())
	store, err := vector.NewStore(vector.StoreConfig{Dir: t.TempDir(), Dimension: 3})
	require.NoError(t, err)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"What does main.go do?": {1, 0, 0},
		"it wires the server":   {0, 1, 0},
	}}
	recorder := NewRecorder(llm.NewMockClient(), memStore, store, embedder, nil)

	record := &memory.LearningRecord{
		ID: "record_42", ProjectKey: "proj",
		Question: "What does main.go do?", Answer: "it wires the server", Confidence: 0.8,
	}
	require.NoError(t, recorder.Save(context.Background(), record))

	saved, err := memStore.GetRecord("proj", "record_42")
	require.NoError(t, err)
	require.NotNil(t, saved)

	question := store.Get("learning:record_42:question")
	answer := store.Get("learning:record_42:answer")
	require.NotNil(t, question)
	require.NotNil(t, answer)
	assert.Equal(t, "What does main.go do?", question.Content)
	assert.Equal(t, "it wires the server", answer.Content)
	assert.Equal(t, "record_42", question.Metadata["recordId"])
}

func TestSaveMergesInsightsIntoMemory(t *testing.T) {
	memStore := memory.NewStore(t.TempDir())
	recorder := NewRecorder(llm.NewMockClient(), memStore, nil, nil, nil)

	record := &memory.LearningRecord{
		ID: "record_9", ProjectKey: "proj",
		Question: "q", Answer: "a", Confidence: 0.6,
		Domain:        "payments",
		TechStack:     []string{"Go", "gin"},
		KnowledgeGaps: []string{"How is auth handled?"},
	}
	require.NoError(t, recorder.Save(context.Background(), record))

	mem, err := memStore.Load("proj")
	require.NoError(t, err)
	assert.Contains(t, mem.DomainKnowledge, "payments")
	assert.Contains(t, mem.TechStack, "gin")
	assert.Contains(t, mem.KnowledgeGaps, "How is auth handled?")

	// Saving again must not duplicate the entries.
	require.NoError(t, recorder.Save(context.Background(), record))
	mem, err = memStore.Load("proj")
	require.NoError(t, err)
	assert.Len(t, mem.TechStack, 2)
}

func TestCheckpointWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := vector.NewStore(vector.StoreConfig{Dir: dir, Dimension: 3, Model: "embed-test"})
	require.NoError(t, err)
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"q": {1, 0, 0},
		"a": {0, 1, 0},
	}}
	recorder := NewRecorder(llm.NewMockClient(), memory.NewStore(t.TempDir()), store, embedder, nil)

	require.NoError(t, recorder.Save(context.Background(), &memory.LearningRecord{
		ID: "record_3", ProjectKey: "proj", Question: "q", Answer: "a", Confidence: 0.9,
	}))
	require.NoError(t, recorder.Checkpoint())

	for _, name := range []string{"meta.json", "class.docs.json", "class.vec.bin"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, name)
	}
}

func TestSaveKeepsRecordWhenEmbeddingFails(t *testing.T) {
	memStore := memory.NewStore(t.TempDir())
	store, err := vector.NewStore(vector.StoreConfig{Dir: t.TempDir(), Dimension: 3})
	require.NoError(t, err)
	recorder := NewRecorder(llm.NewMockClient(), memStore, store,
		&stubEmbedder{fail: fmt.Errorf("embedding service down")}, nil)

	record := &memory.LearningRecord{
		ID: "record_7", ProjectKey: "proj",
		Question: "q", Answer: "a", Confidence: 0.5,
	}
	require.NoError(t, recorder.Save(context.Background(), record))

	saved, err := memStore.GetRecord("proj", "record_7")
	require.NoError(t, err)
	require.NotNil(t, saved, "relational record survives an embedding outage")
	assert.Equal(t, 0, store.Count(), "fragment pair is both-or-neither")
}
