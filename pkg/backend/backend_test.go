package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBackendFallsBackToEcho(t *testing.T) {
	m := NewMockBackend()
	reply, err := m.Send(context.Background(), Request{Layer: "L4", Content: "hello"})
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Mock L4 response to: hello")
	assert.Greater(t, reply.Usage.TotalTokens, 0)
}

func TestMockBackendSubstringMatch(t *testing.T) {
	m := NewMockBackend()
	m.AddResponse("L4", "break down", "FORWARD_TO: n2, n3\nCONTENT: split the task")
	reply, err := m.Send(context.Background(), Request{Layer: "L4", Content: "please break down this goal"})
	require.NoError(t, err)
	assert.Equal(t, "FORWARD_TO: n2, n3\nCONTENT: split the task", reply.Text)
}

func TestMockBackendRespectsContextDeadline(t *testing.T) {
	m := NewMockBackend()
	m.SetDelay(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Send(ctx, Request{Layer: "L4", Content: "x"})
	require.Error(t, err)
}
