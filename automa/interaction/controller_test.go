package interaction

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsky-tech/automa/automa/hooks"
)

func TestRequestPausesOnFirstCall(t *testing.T) {
	c := NewController()
	data, err := c.Request("ask_name", []string{"root"}, hooks.Event{Type: "clarification_needed"})
	require.Nil(t, data)
	assert.ErrorIs(t, err, ErrPaused)
	assert.True(t, c.HasPending())
	assert.Len(t, c.Pending(), 1)
}

func TestRequestReturnsDeliveredAnswer(t *testing.T) {
	c := NewController()
	_, err := c.Request("ask_name", nil, hooks.Event{Type: "clarification_needed"})
	require.ErrorIs(t, err, ErrPaused)

	pending := c.Pending()
	require.Len(t, pending, 1)
	id := pending[0].ID

	require.NoError(t, c.Resume([]InteractionFeedback{{InteractionID: id, Data: "Ada"}}))
	assert.False(t, c.HasPending())

	data, err := c.Request("ask_name", nil, hooks.Event{Type: "clarification_needed"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", data)
}

func TestResumeWithUnmatchedIDReturnsError(t *testing.T) {
	c := NewController()
	err := c.Resume([]InteractionFeedback{{InteractionID: "does-not-exist", Data: 1}})
	var unmatched *UnmatchedFeedbackError
	require.True(t, errors.As(err, &unmatched))
	assert.Equal(t, []string{"does-not-exist"}, unmatched.InteractionIDs)
}

func TestRestorePendingPreservesOriginalID(t *testing.T) {
	c := NewController()
	restored := Interaction{
		ID:                 "pre-restart-id",
		AwaitingWorkerKey:  "ask_name",
		AwaitingAutomaPath: []string{"root"},
		Event:              hooks.Event{Type: "clarification_needed"},
	}
	c.RestorePending([]Interaction{restored})
	require.True(t, c.HasPending())

	require.NoError(t, c.Resume([]InteractionFeedback{{InteractionID: "pre-restart-id", Data: "Ada"}}))

	data, err := c.Request("ask_name", []string{"root"}, hooks.Event{Type: "clarification_needed"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", data)
}

func TestSecondRequestBeforeAnswerReusesSamePendingID(t *testing.T) {
	c := NewController()
	_, _ = c.Request("ask_name", nil, hooks.Event{Type: "clarification_needed"})
	first := c.Pending()[0].ID

	_, err := c.Request("ask_name", nil, hooks.Event{Type: "clarification_needed"})
	require.ErrorIs(t, err, ErrPaused)
	second := c.Pending()[0].ID

	assert.Equal(t, first, second)
}
