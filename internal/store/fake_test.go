package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeStore_PersistAndRoundTrip(t *testing.T) {
	s := NewFakeStore()
	ctx := context.Background()

	err := s.Persist(ctx, PersistRequest{
		AdminID: 1, SessionID: "sess-1",
		UserMessage: "统计22级男生各班人数", AssistantReply: "共 3 个班级", ModelName: "claude-haiku-4-5",
		WorkflowLogs: []WorkflowLogEntry{{SessionID: "sess-1", StepName: "intent_recognition", InputJSON: "{}", Status: "success", RiskLevel: "low"}},
	})
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, 1, "sess-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "共 3 个班级", msgs[1].Content, "round-trip: persisted assistant message equals assistant_reply")

	require.Len(t, s.LogRows, 1)
}

func TestFakeStore_LastUserMessages_OrderedOldestFirst(t *testing.T) {
	s := NewFakeStore()
	ctx := context.Background()
	for i, msg := range []string{"q1", "q2", "q3", "q4", "q5"} {
		_ = i
		_ = s.Persist(ctx, PersistRequest{AdminID: 1, SessionID: "sess-1", UserMessage: msg, AssistantReply: "a"})
	}

	last, err := s.LastUserMessages(ctx, "sess-1", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"q2", "q3", "q4", "q5"}, last)
}

func TestFakeStore_SoftDelete(t *testing.T) {
	s := NewFakeStore()
	ctx := context.Background()
	_ = s.Persist(ctx, PersistRequest{AdminID: 1, SessionID: "sess-1", UserMessage: "q", AssistantReply: "a"})

	require.NoError(t, s.SoftDeleteSession(ctx, 1, "sess-1"))

	msgs, err := s.ListMessages(ctx, 1, "sess-1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestFakeStore_PersistFailure(t *testing.T) {
	s := NewFakeStore()
	s.FailNextPersist = true
	err := s.Persist(context.Background(), PersistRequest{AdminID: 1, SessionID: "sess-1"})
	assert.Error(t, err)
}
