// Package session implements spec.md §4.4's Session Store and Session
// Manager: durable, compressed, checkpointed, branchable conversation
// state with undo/redo and crash-safe atomic writes. Grounded in the
// teacher's pkg/session (Session/branch/store), generalized from its
// in-process chat.Message to the shared chatmsg.Message model and from
// its ad hoc JSON+SQLite persistence to the spec's self-describing
// .agcs binary record.
package session

import (
	"time"

	"github.com/docker/agent-substrate/pkg/chatmsg"
)

// Mode is a session's current operating mode, per spec.md §3.
type Mode string

const (
	ModePlan   Mode = "plan"
	ModeBuild  Mode = "build"
	ModeReview Mode = "review"
)

// ModeEntry is one entry in a session's ModeHistory: the mode in
// effect from Timestamp until the next entry (or now, for the last).
type ModeEntry struct {
	Mode      Mode      `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// Context holds a session's working environment, per spec.md §3.
type Context struct {
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env,omitempty"`
	OpenFiles  []string          `json:"open_files,omitempty"`

	// IndexHandle and EmbeddingCacheHandle are opaque references to
	// external index/cache state (index/indexer.Indexer, index/embed
	// caches) a session may be bound to; empty when unbound.
	IndexHandle          string `json:"index_handle,omitempty"`
	EmbeddingCacheHandle string `json:"embedding_cache_handle,omitempty"`
}

func (c Context) clone() Context {
	clone := c
	clone.Env = cloneStringMap(c.Env)
	clone.OpenFiles = cloneStringSlice(c.OpenFiles)
	return clone
}

// Session is spec.md §3's Session record: an ordered sequence of
// Messages plus a Context and a ModeHistory.
type Session struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Model string `json:"model"`

	Messages    []chatmsg.Message `json:"messages"`
	ModeHistory []ModeEntry       `json:"mode_history"`
	Ctx         Context           `json:"context"`

	Tags     []string `json:"tags,omitempty"`
	Starred  bool     `json:"starred,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// BranchParentSessionID and BranchParentPosition identify a branch's
	// fork point in its parent, empty/nil for a root session.
	BranchParentSessionID string `json:"branch_parent_session_id,omitempty"`
	BranchParentPosition  *int   `json:"branch_parent_position,omitempty"`

	// Dirty is not set or read by Manager; its autosave loop tracks
	// unsaved changes per active session instead.
	Dirty bool `json:"-"`
}

// CurrentMode returns the session's current mode, the last entry in
// ModeHistory, or ModePlan for a session with no history yet.
func (s *Session) CurrentMode() Mode {
	if len(s.ModeHistory) == 0 {
		return ModePlan
	}
	return s.ModeHistory[len(s.ModeHistory)-1].Mode
}

// MessageCount returns len(s.Messages), the spec's tracked message_count.
func (s *Session) MessageCount() int {
	return len(s.Messages)
}

// NextTurnIndex returns the turn_index the next appended message must
// carry to keep turn_index contiguous from 0.
func (s *Session) NextTurnIndex() int {
	return len(s.Messages)
}

// clone returns a deep copy of s, the unit of state an UndoState
// snapshot or Checkpoint holds, grounded in the teacher's
// cloneMessage/cloneSessionItem pattern.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = make([]chatmsg.Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = cloneMessage(m)
	}
	out.ModeHistory = append([]ModeEntry(nil), s.ModeHistory...)
	out.Ctx = s.Ctx.clone()
	out.Tags = cloneStringSlice(s.Tags)
	out.Metadata = cloneStringMapGeneric(s.Metadata)
	if s.BranchParentPosition != nil {
		p := *s.BranchParentPosition
		out.BranchParentPosition = &p
	}
	return &out
}

func cloneMessage(m chatmsg.Message) chatmsg.Message {
	out := m
	out.Content = append([]chatmsg.Part(nil), m.Content...)
	if m.EditHistory != nil {
		out.EditHistory = make([]chatmsg.Edit, len(m.EditHistory))
		for i, e := range m.EditHistory {
			out.EditHistory[i] = chatmsg.Edit{
				Content:  append([]chatmsg.Part(nil), e.Content...),
				EditedAt: e.EditedAt,
			}
		}
	}
	return out
}

func cloneStringSlice(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func cloneStringMapGeneric(src map[string]string) map[string]string {
	return cloneStringMap(src)
}

// Checkpoint is spec.md §3's named pointer to a full session snapshot.
type Checkpoint struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Favorite    bool      `json:"favorite"`
	CreatedAt   time.Time `json:"created_at"`
	Snapshot    *Session  `json:"snapshot"`
}

// Branch is an UndoState fork identified by its parent snapshot id,
// per spec.md §3.
type Branch struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	ParentSessionID  string    `json:"parent_session_id"`
	ParentSnapshotID string    `json:"parent_snapshot_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Session          *Session  `json:"session"`
}

// ExportFormat discriminates export_session's output encoding.
type ExportFormat string

const (
	ExportMarkdownConversation ExportFormat = "markdown_conversation"
	ExportMarkdownWithMetadata ExportFormat = "markdown_with_metadata"
	ExportJSON                ExportFormat = "json"
	ExportPlainText            ExportFormat = "plain_text"
)

// Metadata is the lightweight record spec.md §4.4's sessions_on_disk
// index holds, rebuilt on startup by DecodeMetadata, which unmarshals
// only the record's metadata field (the payload is still decompressed
// whole).
type Metadata struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	Mode         Mode      `json:"mode"`
	MessageCount int       `json:"message_count"`
	Tags         []string  `json:"tags,omitempty"`
	Starred      bool      `json:"starred,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func metadataOf(s *Session) Metadata {
	return Metadata{
		ID:           s.ID,
		Title:        s.Title,
		Model:        s.Model,
		Mode:         s.CurrentMode(),
		MessageCount: s.MessageCount(),
		Tags:         s.Tags,
		Starred:      s.Starred,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}
