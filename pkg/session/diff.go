package session

import "github.com/docker/agent-substrate/pkg/chatmsg"

// ModifiedItem is one changed-in-place entry in a ConversationDiff.
type ModifiedItem struct {
	Index int              `json:"index"`
	Item  chatmsg.Message  `json:"item"`
}

// ConversationDiff is spec.md §4.4's compact representation of one
// message list against a parent: messages appended past the parent's
// length, indices removed from the parent's prefix, and items changed
// in place. The Manager does not call DiffConversations or ApplyDiff:
// checkpoints and branches hold full session clones.
type ConversationDiff struct {
	Added          []chatmsg.Message `json:"added"`
	RemovedIndices []int             `json:"removed_indices,omitempty"`
	Modified       []ModifiedItem    `json:"modified,omitempty"`
}

// messagesEqual compares role and textual content, per spec.md §4.4:
// "equality of items compares role + textual content; other variants
// are treated as unequal" (a tool-call/tool-result part never compares
// equal across two otherwise-identical messages).
func messagesEqual(a, b chatmsg.Message) bool {
	if a.Role != b.Role {
		return false
	}
	if len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Content {
		pa, pb := a.Content[i], b.Content[i]
		if pa.Type != chatmsg.PartText || pb.Type != chatmsg.PartText {
			return false
		}
		if pa.Text != pb.Text {
			return false
		}
	}
	return true
}

// DiffConversations computes the ConversationDiff turning parent into
// child.
func DiffConversations(parent, child []chatmsg.Message) ConversationDiff {
	var diff ConversationDiff

	shared := len(parent)
	if len(child) < shared {
		shared = len(child)
	}

	for i := 0; i < shared; i++ {
		if !messagesEqual(parent[i], child[i]) {
			diff.Modified = append(diff.Modified, ModifiedItem{Index: i, Item: child[i]})
		}
	}

	for i := shared; i < len(parent); i++ {
		diff.RemovedIndices = append(diff.RemovedIndices, i)
	}

	if len(child) > shared {
		diff.Added = append(diff.Added, child[shared:]...)
	}

	return diff
}

// ApplyDiff mutates a copy of base according to diff and returns the
// result, reconstructing the child conversation DiffConversations was
// computed against.
func ApplyDiff(base []chatmsg.Message, diff ConversationDiff) []chatmsg.Message {
	removed := make(map[int]bool, len(diff.RemovedIndices))
	for _, idx := range diff.RemovedIndices {
		removed[idx] = true
	}
	modified := make(map[int]chatmsg.Message, len(diff.Modified))
	for _, m := range diff.Modified {
		modified[m.Index] = m.Item
	}

	out := make([]chatmsg.Message, 0, len(base)+len(diff.Added))
	for i, msg := range base {
		if removed[i] {
			continue
		}
		if m, ok := modified[i]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, msg)
	}
	out = append(out, diff.Added...)
	return out
}
