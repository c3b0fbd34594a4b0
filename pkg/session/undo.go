package session

// perItemOverhead is the fixed per-snapshot-item byte cost spec.md
// §4.4's size estimation adds on top of content bytes, accounting for
// struct/pointer/slice-header overhead that a raw content sum misses.
const perItemOverhead = 128

// estimatedSize returns a session snapshot's approximate byte size:
// the sum of its message content sizes plus a fixed per-item overhead,
// per spec.md §4.4.
func estimatedSize(s *Session) int {
	if s == nil {
		return 0
	}
	total := perItemOverhead
	for _, m := range s.Messages {
		total += perItemOverhead
		for _, p := range m.Content {
			total += len(p.Text) + len(p.ImageRef) + len(p.ToolArgs) + len(p.ToolResult) + len(p.ToolError)
		}
		for _, e := range m.EditHistory {
			for _, p := range e.Content {
				total += len(p.Text) + len(p.ImageRef)
			}
		}
	}
	return total
}

// snapshot pairs a cloned Session with its estimated byte size, the
// unit an UndoRedoManager deque holds.
type snapshot struct {
	id    string
	state *Session
	size  int
}

// DefaultUndoCap is spec.md §3's default undo deque capacity.
const DefaultUndoCap = 50

// UndoRedoManager holds one session's undo and redo deques, bounded by
// both entry count and an aggregate memory budget, per spec.md §3/§4.4.
type UndoRedoManager struct {
	cap          int
	memoryBudget int // 0 means unbounded

	undo []snapshot
	redo []snapshot
}

// NewUndoRedoManager builds a manager with the given cap (DefaultUndoCap
// if <= 0) and an optional memory budget in bytes (0 disables it).
func NewUndoRedoManager(cap, memoryBudget int) *UndoRedoManager {
	if cap <= 0 {
		cap = DefaultUndoCap
	}
	return &UndoRedoManager{cap: cap, memoryBudget: memoryBudget}
}

// PushMutation records the pre-mutation state onto the undo deque and
// clears the redo deque, per spec.md §4.4's "a new mutation clears the
// redo deque".
func (m *UndoRedoManager) PushMutation(id string, prior *Session) {
	m.redo = nil
	m.pushUndo(snapshot{id: id, state: prior.clone(), size: estimatedSize(prior)})
}

// PushWithoutClearingRedo records the pre-mutation state onto the undo
// deque but leaves the redo deque intact, the switch_mode exception
// spec.md §4.4 calls out explicitly.
func (m *UndoRedoManager) PushWithoutClearingRedo(id string, prior *Session) {
	m.pushUndo(snapshot{id: id, state: prior.clone(), size: estimatedSize(prior)})
}

func (m *UndoRedoManager) pushUndo(s snapshot) {
	m.undo = append(m.undo, s)
	m.evict()
}

// evict drops the oldest undo entries until both the count cap and the
// memory budget (when set) hold, never touching the current live
// state (which this manager never stores — only past snapshots).
func (m *UndoRedoManager) evict() {
	for len(m.undo) > m.cap {
		m.undo = m.undo[1:]
	}
	if m.memoryBudget <= 0 {
		return
	}
	for m.totalSize() > m.memoryBudget && len(m.undo) > 0 {
		m.undo = m.undo[1:]
	}
}

func (m *UndoRedoManager) totalSize() int {
	total := 0
	for _, s := range m.undo {
		total += s.size
	}
	return total
}

// Undo pops the most recent undo snapshot, pushes current onto redo,
// and returns the restored state. Returns (nil, false) on an empty
// deque, a no-op per spec.md §4.4.
func (m *UndoRedoManager) Undo(current *Session) (*Session, bool) {
	if len(m.undo) == 0 {
		return nil, false
	}
	last := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, snapshot{id: last.id, state: current.clone(), size: estimatedSize(current)})
	return last.state, true
}

// Redo pops the most recent redo snapshot, pushes current onto undo,
// and returns the restored state. Returns (nil, false) on an empty
// deque, a no-op per spec.md §4.4.
func (m *UndoRedoManager) Redo(current *Session) (*Session, bool) {
	if len(m.redo) == 0 {
		return nil, false
	}
	last := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.pushUndo(snapshot{id: last.id, state: current.clone(), size: estimatedSize(current)})
	return last.state, true
}

// UndoDepth and RedoDepth report deque lengths, used by tests asserting
// spec.md §8's checkpoint round-trip property.
func (m *UndoRedoManager) UndoDepth() int { return len(m.undo) }
func (m *UndoRedoManager) RedoDepth() int { return len(m.redo) }

// Fork returns the id of the most recent undo snapshot, the parent
// snapshot id a Branch records, per spec.md §3's "Branch is an
// UndoState fork identified by a parent snapshot id". It stores nothing,
// does not read current, and returns "" when the undo deque is empty.
func (m *UndoRedoManager) Fork(current *Session) (parentSnapshotID string) {
	if len(m.undo) == 0 {
		return ""
	}
	return m.undo[len(m.undo)-1].id
}
