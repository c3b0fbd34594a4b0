package chatmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentTextJoinsTextParts(t *testing.T) {
	t.Parallel()

	msg := Message{
		Content: []Part{
			Text("hello"),
			{Type: PartToolCall, ToolName: "grep"},
			Text("world"),
		},
	}

	assert.Equal(t, "hello\nworld", msg.ContentText())
}

func TestWithEditPreservesOriginal(t *testing.T) {
	t.Parallel()

	original := Message{
		MessageID: "m1",
		Content:   []Part{Text("v1")},
	}

	edited := original.WithEdit([]Part{Text("v2")}, time.Unix(100, 0).UTC())

	assert.Equal(t, []Part{Text("v1")}, original.Content, "original message must not mutate")
	assert.Empty(t, original.EditHistory)

	assert.Equal(t, []Part{Text("v2")}, edited.Content)
	assert.Len(t, edited.EditHistory, 1)
	assert.Equal(t, []Part{Text("v1")}, edited.EditHistory[0].Content)
}

func TestWithEditChainsHistory(t *testing.T) {
	t.Parallel()

	m := Message{Content: []Part{Text("v1")}}
	m = m.WithEdit([]Part{Text("v2")}, time.Unix(1, 0).UTC())
	m = m.WithEdit([]Part{Text("v3")}, time.Unix(2, 0).UTC())

	assert.Equal(t, []Part{Text("v3")}, m.Content)
	assert.Len(t, m.EditHistory, 2)
	assert.Equal(t, []Part{Text("v1")}, m.EditHistory[0].Content)
	assert.Equal(t, []Part{Text("v2")}, m.EditHistory[1].Content)
}
