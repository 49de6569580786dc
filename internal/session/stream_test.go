package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectParts(stream *Stream) (*sync.Mutex, *[]*Part) {
	var mu sync.Mutex
	var parts []*Part
	stream.Subscribe(func(part *Part) {
		mu.Lock()
		parts = append(parts, part)
		mu.Unlock()
	})
	return &mu, &parts
}

func TestStreamDeliversInOrder(t *testing.T) {
	stream := NewStream("s1", "m1")
	mu, parts := collectParts(stream)

	stream.Emit(NewTextPart("p1", "m1", "s1", "a"))
	stream.Emit(NewTextPart("p2", "m1", "s1", "b"))
	stream.Complete()
	<-stream.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *parts, 2)
	assert.Equal(t, "p1", (*parts)[0].ID)
	assert.Equal(t, "p2", (*parts)[1].ID)
}

func TestStreamDropsForeignParts(t *testing.T) {
	stream := NewStream("s1", "m1")
	mu, parts := collectParts(stream)

	stream.Emit(NewTextPart("p1", "other", "s1", "x"))
	stream.Emit(NewTextPart("p2", "m1", "other", "x"))
	stream.Complete()
	<-stream.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, *parts)
}

func TestStreamReemissionIsUpdate(t *testing.T) {
	stream := NewStream("s1", "m1")
	mu, parts := collectParts(stream)

	tool := NewToolPart("p1", "m1", "s1", "c1", "read_file", nil)
	stream.Emit(tool)
	require.NoError(t, tool.TransitionTool(ToolRunning, "", ""))
	stream.Emit(tool)
	require.NoError(t, tool.TransitionTool(ToolCompleted, "done", ""))
	stream.Emit(tool)
	stream.Complete()
	<-stream.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *parts, 3)
	assert.Equal(t, ToolPending, (*parts)[0].State)
	assert.Equal(t, ToolRunning, (*parts)[1].State)
	assert.Equal(t, ToolCompleted, (*parts)[2].State)
	for _, part := range *parts {
		assert.Equal(t, "p1", part.ID)
	}
}

func TestStreamEmitClonesPart(t *testing.T) {
	stream := NewStream("s1", "m1")
	mu, parts := collectParts(stream)

	tool := NewToolPart("p1", "m1", "s1", "c1", "read_file", nil)
	stream.Emit(tool)
	// Mutating after Emit must not affect the delivered copy.
	require.NoError(t, tool.TransitionTool(ToolRunning, "", ""))
	stream.Complete()
	<-stream.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *parts, 1)
	assert.Equal(t, ToolPending, (*parts)[0].State)
}

func TestStreamCancellationFlag(t *testing.T) {
	stream := NewStream("s1", "m1")
	assert.False(t, stream.Cancelled())
	stream.Cancel()
	assert.True(t, stream.Cancelled())
}

func TestCompleteIsIdempotentAndDrains(t *testing.T) {
	stream := NewStream("s1", "m1")
	mu, parts := collectParts(stream)

	for i := 0; i < 10; i++ {
		stream.Emit(NewTextPart("p", "m1", "s1", "x"))
	}
	stream.Complete()
	stream.Complete()

	select {
	case <-stream.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, *parts, 10)
}
