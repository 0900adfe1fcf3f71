package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryDeduplicates(t *testing.T) {
	history := NewHistory(0)

	added := history.Add(
		Message{ID: "a", Text: "hello"},
		Message{ID: "b", Text: "world"},
		Message{ID: "a", Text: "again"},
		Message{Text: "no id"},
	)
	require.Len(t, added, 2)
	assert.Equal(t, "hello", added[0].Text)

	assert.Empty(t, history.Add(Message{ID: "b"}))
	assert.Equal(t, 2, history.Len())

	history.Reset()
	assert.Zero(t, history.Len())
	assert.Len(t, history.Add(Message{ID: "a"}), 1)
}

func TestHistoryIsCapped(t *testing.T) {
	history := NewHistory(3)

	for i := range 5 {
		history.Add(Message{ID: fmt.Sprint(i), Text: fmt.Sprint("message ", i)})
	}

	messages := history.Messages()
	require.Len(t, messages, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})

	// Evicted ids are forgotten
	assert.Len(t, history.Add(Message{ID: "0"}), 1)
	assert.Equal(t, "3", history.Messages()[0].ID)
}

func TestDefaultHistoryHoldsThousandMessages(t *testing.T) {
	history := NewHistory(0)

	batch := make([]Message, 0, 1200)
	for i := range 1200 {
		batch = append(batch, Message{ID: fmt.Sprint(i)})
	}
	history.Add(batch...)

	messages := history.Messages()
	require.Len(t, messages, DefaultMaxHistory)
	assert.Equal(t, "200", messages[0].ID)
	assert.Equal(t, "1199", messages[len(messages)-1].ID)
}

func TestValidation(t *testing.T) {
	assert.ErrorIs(t, validateText(""), ErrInvalidText)
	assert.NoError(t, validateText(strings.Repeat("x", MaxTextLength)))
	assert.ErrorIs(t, validateText(strings.Repeat("x", MaxTextLength+1)), ErrInvalidText)

	assert.ErrorIs(t, validateDisplayName(""), ErrInvalidDisplayName)
	assert.ErrorIs(t, validateDisplayName(strings.Repeat("x", MaxDisplayNameLength+1)), ErrInvalidDisplayName)
	assert.NoError(t, validateDisplayName("viewer"))
}

func TestStatusText(t *testing.T) {
	text, err := StatusConnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "connected", string(text))
	assert.Equal(t, "error", StatusError.String())
}
