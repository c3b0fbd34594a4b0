// Package chatmsg defines the message/content data model shared by
// session storage and sub-agent invocation: roles, multi-part content,
// and the edit history a message accumulates across undo/redo cycles.
package chatmsg

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType discriminates the kind of content a Part carries.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Part is one piece of a message's multi-part content.
type Part struct {
	Type PartType `json:"type"`

	// Text holds the content for PartText.
	Text string `json:"text,omitempty"`

	// ImageRef holds a URI or store-relative path for PartImage.
	ImageRef string `json:"image_ref,omitempty"`

	// ToolCallID correlates a PartToolCall with its PartToolResult.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolName is the tool being invoked, set on PartToolCall.
	ToolName string `json:"tool_name,omitempty"`
	// ToolArgs is the raw argument payload for PartToolCall.
	ToolArgs string `json:"tool_args,omitempty"`
	// ToolResult is the raw result payload for PartToolResult.
	ToolResult string `json:"tool_result,omitempty"`
	// ToolError, when non-empty, marks PartToolResult as a failure.
	ToolError string `json:"tool_error,omitempty"`
}

// Text returns a PartText Part carrying s.
func Text(s string) Part {
	return Part{Type: PartText, Text: s}
}

// Edit is one prior revision of a message's content, kept on the
// message's edit_history stack so undo can restore it verbatim.
type Edit struct {
	Content  []Part    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// Message is one turn in a Session, totally ordered by TurnIndex.
type Message struct {
	// MessageID is distinct from the owning session's ID.
	MessageID string `json:"message_id"`
	// TurnIndex is this message's 0-based position; contiguous within a session.
	TurnIndex int    `json:"turn_index"`
	Role      Role   `json:"role"`
	Content   []Part `json:"content"`

	// EditHistory holds prior revisions, most recent last.
	EditHistory []Edit `json:"edit_history,omitempty"`
	// BranchID is non-empty when this message belongs to a branch rather
	// than the session's root timeline.
	BranchID string `json:"branch_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ContentText concatenates every PartText in Content, the common case
// for search indexing and title derivation.
func (m Message) ContentText() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartText {
			if out != "" {
				out += "\n"
			}
			out += p.Text
		}
	}
	return out
}

// WithEdit returns a copy of m with its current content pushed onto
// EditHistory and Content replaced by newContent. The original m is
// left untouched, matching the session store's immutable-snapshot
// discipline for undo/redo.
func (m Message) WithEdit(newContent []Part, editedAt time.Time) Message {
	history := make([]Edit, len(m.EditHistory), len(m.EditHistory)+1)
	copy(history, m.EditHistory)
	history = append(history, Edit{Content: m.Content, EditedAt: editedAt})

	clone := m
	clone.EditHistory = history
	clone.Content = newContent
	return clone
}
