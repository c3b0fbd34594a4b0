package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docker/agent-substrate/pkg/chatmsg"
	"github.com/docker/agent-substrate/pkg/compress"
	"github.com/docker/agent-substrate/pkg/concurrent"
	"github.com/docker/agent-substrate/pkg/env"
	"github.com/docker/agent-substrate/pkg/errkind"
)

// DefaultEnvKeys is the set of process environment variables snapshotted
// into a new session's Context.Env, per spec.md §3.
var DefaultEnvKeys = []string{"PATH", "HOME", "SHELL", "LANG"}

// DefaultMaxCheckpoints is spec.md §3's default per-session checkpoint cap.
const DefaultMaxCheckpoints = 20

// DefaultAutosaveInterval is how often the autosave loop checks for
// dirty sessions.
const DefaultAutosaveInterval = 30 * time.Second

// ErrNotFound marks a lookup against an unknown session or checkpoint.
var ErrNotFound = fmt.Errorf("not found")

// ErrDuplicateCheckpointName marks a checkpoint name collision within
// one session, per spec.md §3.
var ErrDuplicateCheckpointName = fmt.Errorf("checkpoint name already exists in this session")

// activeSession is spec.md §4.4's ActiveSession: a loaded session plus
// its per-session undo/redo manager, checkpoint list, and dirty flag.
// All access goes through mu, the "per-session lock" spec.md §5 calls for.
type activeSession struct {
	mu          sync.Mutex
	sess        *Session
	undo        *UndoRedoManager
	checkpoints []Checkpoint
	branches    []*Branch
	dirty       bool
	saving      sync.Mutex // serializes autosave/manual saves for this session
}

// Manager is spec.md §4.4's Session Manager: an in-memory registry over
// on-disk sessions plus per-session undo/redo, checkpoints, and
// autosave. Grounded in the teacher's pkg/runtime.LocalRuntime
// (concurrent-map-backed active-session registry) and
// pkg/session.NewSQLiteSessionStore's crash-recovery shape, adapted to
// the .agcs file format.
type Manager struct {
	root           string
	codec          *compress.Codec
	maxCheckpoints int
	undoCap        int
	memoryBudget   int

	envProvider env.Provider
	envKeys     []string

	onDisk *concurrent.Map[string, Metadata]
	active *concurrent.Map[string, *activeSession]

	autosaveInterval time.Duration
	stopAutosave     chan struct{}
	autosaveWG       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

func WithCompression(level compress.Level) Option {
	return func(m *Manager) { m.codec = compress.New(level) }
}

func WithMaxCheckpoints(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxCheckpoints = n
		}
	}
}

func WithUndoCap(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.undoCap = n
		}
	}
}

func WithMemoryBudget(bytes int) Option {
	return func(m *Manager) { m.memoryBudget = bytes }
}

func WithAutosaveInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.autosaveInterval = d
		}
	}
}

// WithEnvProvider overrides the env.Provider a Manager uses to
// snapshot a new session's working environment.
func WithEnvProvider(p env.Provider) Option {
	return func(m *Manager) { m.envProvider = p }
}

// WithEnvKeys overrides DefaultEnvKeys, the process environment
// variable names snapshotted into a new session's Context.Env.
func WithEnvKeys(keys []string) Option {
	return func(m *Manager) { m.envKeys = keys }
}

// NewManager builds a Manager rooted at storageRoot. Callers should
// follow with LoadIndex to populate sessions_on_disk from existing
// files before serving requests.
func NewManager(storageRoot string, opts ...Option) *Manager {
	m := &Manager{
		root:             storageRoot,
		codec:            compress.New(compress.Balanced),
		maxCheckpoints:   DefaultMaxCheckpoints,
		undoCap:          DefaultUndoCap,
		autosaveInterval: DefaultAutosaveInterval,
		envProvider:      env.NewDefaultProvider(),
		envKeys:          DefaultEnvKeys,
		onDisk:           concurrent.NewMap[string, Metadata](),
		active:           concurrent.NewMap[string, *activeSession](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadIndex rebuilds sessions_on_disk by scanning root and decoding
// only each file's metadata header, per spec.md §4.4. Leftover
// "*.agcs.tmp" files from an interrupted write are deleted.
func (m *Manager) LoadIndex() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.New(errkind.External, fmt.Errorf("load session index: %w", err))
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(m.root, name)

		if IsTempFile(name) {
			_ = os.Remove(path)
			continue
		}
		if !strings.HasSuffix(name, ".agcs") {
			continue
		}

		meta, err := ReadMetadataFile(path)
		if err != nil {
			continue
		}
		m.onDisk.Store(meta.ID, meta)
	}
	return nil
}

// CreateSession writes a fresh session with one ModeHistory entry and
// registers it active, per spec.md §4.4's create_session.
func (m *Manager) CreateSession(title, model string, mode Mode) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:          uuid.NewString(),
		Title:       title,
		Model:       model,
		ModeHistory: []ModeEntry{{Mode: mode, Timestamp: now}},
		Ctx:         Context{Env: m.snapshotEnv()},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	as := &activeSession{sess: sess, undo: NewUndoRedoManager(m.undoCap, m.memoryBudget), dirty: true}
	m.active.Store(sess.ID, as)

	if err := m.save(as); err != nil {
		return nil, err
	}
	return sess, nil
}

// snapshotEnv reads m.envKeys through m.envProvider, producing the
// Context.Env map a freshly created session starts with. Unset
// variables are omitted rather than stored as empty strings.
func (m *Manager) snapshotEnv() map[string]string {
	if len(m.envKeys) == 0 {
		return nil
	}
	snapshot := make(map[string]string, len(m.envKeys))
	for _, key := range m.envKeys {
		value, err := m.envProvider.GetEnv(context.Background(), key)
		if err != nil || value == "" {
			continue
		}
		snapshot[key] = value
	}
	if len(snapshot) == 0 {
		return nil
	}
	return snapshot
}

// loadActive returns the ActiveSession for id, loading it from disk
// into the active registry on first access.
func (m *Manager) loadActive(id string) (*activeSession, error) {
	if as, ok := m.active.Load(id); ok {
		return as, nil
	}

	sess, err := ReadFile(SessionPath(m.root, id))
	if err != nil {
		return nil, err
	}
	as := &activeSession{sess: sess, undo: NewUndoRedoManager(m.undoCap, m.memoryBudget)}
	m.active.Store(id, as)
	return as, nil
}

// AddMessage appends msg to the session, assigning the next contiguous
// turn_index, per spec.md §4.4's add_message.
func (m *Manager) AddMessage(id string, msg chatmsg.Message) error {
	as, err := m.loadActive(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	prior := as.sess.clone()
	msg.TurnIndex = as.sess.NextTurnIndex()
	as.sess.Messages = append(as.sess.Messages, msg)
	as.sess.UpdatedAt = time.Now().UTC()
	as.undo.PushMutation(uuid.NewString(), prior)
	as.dirty = true
	return nil
}

// SwitchMode appends a ModeEntry without clearing the redo deque, per
// spec.md §4.4's switch_mode.
func (m *Manager) SwitchMode(id string, mode Mode) error {
	as, err := m.loadActive(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	prior := as.sess.clone()
	as.sess.ModeHistory = append(as.sess.ModeHistory, ModeEntry{Mode: mode, Timestamp: time.Now().UTC()})
	as.sess.UpdatedAt = time.Now().UTC()
	as.undo.PushWithoutClearingRedo(uuid.NewString(), prior)
	as.dirty = true
	return nil
}

// CreateCheckpoint snapshots the current session state under name,
// evicting the oldest non-favorite checkpoint if at capacity, per
// spec.md §4.4's create_checkpoint.
func (m *Manager) CreateCheckpoint(id, name, description string) (string, error) {
	as, err := m.loadActive(id)
	if err != nil {
		return "", err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	for _, cp := range as.checkpoints {
		if cp.Name == name {
			return "", errkind.New(errkind.Input, ErrDuplicateCheckpointName)
		}
	}

	if len(as.checkpoints) >= m.maxCheckpoints {
		evictOldestNonFavorite(&as.checkpoints)
	}

	cp := Checkpoint{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Snapshot:    as.sess.clone(),
	}
	as.checkpoints = append(as.checkpoints, cp)
	as.dirty = true
	return cp.ID, nil
}

func evictOldestNonFavorite(checkpoints *[]Checkpoint) {
	cps := *checkpoints
	for i, cp := range cps {
		if !cp.Favorite {
			*checkpoints = append(cps[:i:i], cps[i+1:]...)
			return
		}
	}
}

// RestoreCheckpoint pushes the current state onto undo, clears redo,
// and sets current state to the named checkpoint's snapshot, per
// spec.md §4.4's restore_checkpoint.
func (m *Manager) RestoreCheckpoint(id, checkpointID string) error {
	as, err := m.loadActive(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	var target *Checkpoint
	for i := range as.checkpoints {
		if as.checkpoints[i].ID == checkpointID {
			target = &as.checkpoints[i]
			break
		}
	}
	if target == nil {
		return errkind.New(errkind.NotFound, ErrNotFound)
	}

	prior := as.sess.clone()
	as.undo.PushMutation(uuid.NewString(), prior)
	as.sess = target.Snapshot.clone()
	as.sess.UpdatedAt = time.Now().UTC()
	as.dirty = true
	return nil
}

// Undo restores the most recent undo snapshot, a no-op when the deque
// is empty, per spec.md §4.4.
func (m *Manager) Undo(id string) error {
	as, err := m.loadActive(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	restored, ok := as.undo.Undo(as.sess)
	if !ok {
		return nil
	}
	as.sess = restored
	as.dirty = true
	return nil
}

// Redo restores the most recent redo snapshot, a no-op when the deque
// is empty, per spec.md §4.4.
func (m *Manager) Redo(id string) error {
	as, err := m.loadActive(id)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	restored, ok := as.undo.Redo(as.sess)
	if !ok {
		return nil
	}
	as.sess = restored
	as.dirty = true
	return nil
}

// CreateBranch forks a new session from id's current state, seeded
// with items, per spec.md §4.4's create_branch. The new branch is
// itself registered active (and saved) so it can be loaded and
// switched to like any other session.
func (m *Manager) CreateBranch(id, name, description string, items []chatmsg.Message, metadata map[string]string) (*Branch, error) {
	as, err := m.loadActive(id)
	if err != nil {
		return nil, err
	}
	as.mu.Lock()
	defer as.mu.Unlock()

	now := time.Now().UTC()
	branchSess := as.sess.clone()
	branchSess.ID = uuid.NewString()
	branchSess.Title = name
	branchSess.Messages = append([]chatmsg.Message(nil), items...)
	branchSess.Metadata = metadata
	branchSess.BranchParentSessionID = id
	branchSess.CreatedAt = now
	branchSess.UpdatedAt = now

	branch := &Branch{
		ID:               uuid.NewString(),
		Name:             name,
		Description:      description,
		ParentSessionID:  id,
		ParentSnapshotID: as.undo.Fork(as.sess),
		CreatedAt:        now,
		Session:          branchSess,
	}
	as.branches = append(as.branches, branch)
	branchSess.BranchParentPosition = intPtr(len(as.sess.Messages) - 1)

	branchActive := &activeSession{sess: branchSess, undo: NewUndoRedoManager(m.undoCap, m.memoryBudget), dirty: true}
	m.active.Store(branchSess.ID, branchActive)
	if err := m.save(branchActive); err != nil {
		return nil, err
	}

	return branch, nil
}

func intPtr(v int) *int { return &v }

// GetBranches returns every branch forked from parentID.
func (m *Manager) GetBranches(parentID string) ([]*Branch, error) {
	as, err := m.loadActive(parentID)
	if err != nil {
		return nil, err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return append([]*Branch(nil), as.branches...), nil
}

// DeleteSession removes id's on-disk file and in-memory state.
// Idempotent, per spec.md §4.4.
func (m *Manager) DeleteSession(id string) error {
	m.active.Delete(id)
	m.onDisk.Delete(id)
	if err := os.Remove(SessionPath(m.root, id)); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.External, fmt.Errorf("delete session: %w", err))
	}
	return nil
}

// ListSessions returns lightweight metadata for every known session,
// preferring live metadata for sessions currently active.
func (m *Manager) ListSessions() []Metadata {
	out := make(map[string]Metadata)
	m.onDisk.Range(func(id string, meta Metadata) bool {
		out[id] = meta
		return true
	})
	m.active.Range(func(id string, as *activeSession) bool {
		as.mu.Lock()
		out[id] = metadataOf(as.sess)
		as.mu.Unlock()
		return true
	})

	list := make([]Metadata, 0, len(out))
	for _, meta := range out {
		list = append(list, meta)
	}
	return list
}

// SearchSessions does a case-insensitive substring match over title,
// tags, and the first message's text, per spec.md §4.4's
// search_sessions.
func (m *Manager) SearchSessions(query string) ([]Metadata, error) {
	q := strings.ToLower(query)
	var matches []Metadata

	for _, meta := range m.ListSessions() {
		if strings.Contains(strings.ToLower(meta.Title), q) {
			matches = append(matches, meta)
			continue
		}
		tagHit := false
		for _, tag := range meta.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				tagHit = true
				break
			}
		}
		if tagHit {
			matches = append(matches, meta)
			continue
		}

		firstText, err := m.firstMessageText(meta.ID)
		if err == nil && strings.Contains(strings.ToLower(firstText), q) {
			matches = append(matches, meta)
		}
	}
	return matches, nil
}

func (m *Manager) firstMessageText(id string) (string, error) {
	as, err := m.loadActive(id)
	if err != nil {
		return "", err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if len(as.sess.Messages) == 0 {
		return "", nil
	}
	return as.sess.Messages[0].ContentText(), nil
}

// save atomically persists as's current session state and clears dirty,
// serialized per session via as.saving, per spec.md §4.4's autosave rule
// ("one writer at a time" per session).
func (m *Manager) save(as *activeSession) error {
	as.saving.Lock()
	defer as.saving.Unlock()

	as.mu.Lock()
	sess := as.sess.clone()
	as.mu.Unlock()

	if err := WriteFile(SessionPath(m.root, sess.ID), sess, m.codec); err != nil {
		return err
	}

	as.mu.Lock()
	as.dirty = false
	as.mu.Unlock()

	m.onDisk.Store(sess.ID, metadataOf(sess))
	return nil
}

// Save flushes id immediately, regardless of its dirty flag.
func (m *Manager) Save(id string) error {
	as, err := m.loadActive(id)
	if err != nil {
		return err
	}
	return m.save(as)
}

// StartAutosave launches the periodic autosave loop: every interval,
// every dirty active session is saved, in parallel across sessions but
// serialized per session, per spec.md §4.4. Stop cancels it.
func (m *Manager) StartAutosave(ctx context.Context) {
	m.stopAutosave = make(chan struct{})
	m.autosaveWG.Add(1)

	go func() {
		defer m.autosaveWG.Done()
		ticker := time.NewTicker(m.autosaveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopAutosave:
				return
			case <-ticker.C:
				m.autosaveTick()
			}
		}
	}()
}

func (m *Manager) autosaveTick() {
	var wg sync.WaitGroup
	m.active.Range(func(id string, as *activeSession) bool {
		as.mu.Lock()
		dirty := as.dirty
		as.mu.Unlock()
		if !dirty {
			return true
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.save(as)
		}()
		return true
	})
	wg.Wait()
}

// StopAutosave stops the autosave loop started by StartAutosave.
func (m *Manager) StopAutosave() {
	if m.stopAutosave != nil {
		close(m.stopAutosave)
	}
	m.autosaveWG.Wait()
}

// GetSession returns a copy of id's current in-memory state.
func (m *Manager) GetSession(id string) (*Session, error) {
	as, err := m.loadActive(id)
	if err != nil {
		return nil, err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.sess.clone(), nil
}

// UndoRedoDepth reports id's undo/redo deque lengths, for tests
// asserting spec.md §8's checkpoint round-trip property.
func (m *Manager) UndoRedoDepth(id string) (undoDepth, redoDepth int, err error) {
	as, err := m.loadActive(id)
	if err != nil {
		return 0, 0, err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.undo.UndoDepth(), as.undo.RedoDepth(), nil
}
