package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewState_GeneratesDistinctTraceIDs(t *testing.T) {
	a := NewState("hány fok van?", "sess-1", nil)
	b := NewState("hány fok van?", "sess-1", nil)

	require.NotEmpty(t, a.TraceID)
	require.NotEmpty(t, b.TraceID)
	require.NotEqual(t, a.TraceID, b.TraceID)
	require.Equal(t, "sess-1", a.SessionID)
}

func TestHasErrorForStage_FindsTaggedStage(t *testing.T) {
	s := &RetrievalState{}
	addError(s, "entity_retrieval", errBoom{})
	require.True(t, hasErrorForStage(s, "entity_retrieval"))
	require.False(t, hasErrorForStage(s, "scope_detection"))
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
