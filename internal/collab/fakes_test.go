package collab_test

import (
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pagesync/internal/collab"
	"pagesync/internal/crdt"
	"pagesync/internal/domain"
)

// mockSession records every delivery for assertions.
type mockSession struct {
	id string

	mu   sync.Mutex
	msgs []collab.Message
}

func newMockSession(id string) *mockSession {
	return &mockSession{id: id}
}

func (m *mockSession) ID() string { return m.id }

func (m *mockSession) Send(msg collab.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *mockSession) messages() []collab.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]collab.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

func (m *mockSession) last(t *testing.T) collab.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.msgs, "session %s received no messages", m.id)
	return m.msgs[len(m.msgs)-1]
}

// reconcileGate stalls one reconciliation: entered closes when the call
// arrives, release lets it proceed.
type reconcileGate struct {
	entered chan struct{}
	release chan struct{}
}

// fakeBlockStore is an in-memory domain.BlockStore with a switchable
// failure mode for reconciliation and an optional gate that holds the
// next reconciliation open.
type fakeBlockStore struct {
	mu           sync.Mutex
	rows         map[string][]domain.Block
	reconciles   int
	failNextWith error
	gate         *reconcileGate
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{rows: make(map[string][]domain.Block)}
}

func (f *fakeBlockStore) ListBlocks(pageID string) ([]domain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Block, len(f.rows[pageID]))
	copy(out, f.rows[pageID])
	return out, nil
}

func (f *fakeBlockStore) ReconcileBlocks(pageID string, states []domain.BlockState) error {
	f.mu.Lock()
	gate := f.gate
	f.gate = nil
	f.mu.Unlock()
	if gate != nil {
		close(gate.entered)
		<-gate.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles++
	if f.failNextWith != nil {
		err := f.failNextWith
		f.failNextWith = nil
		return err
	}
	now := time.Now()
	rows := make([]domain.Block, 0, len(states))
	for i, st := range states {
		rows = append(rows, domain.Block{
			ID:        st.ID,
			PageID:    pageID,
			Type:      st.Type,
			Content:   st.Content,
			Position:  i,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	f.rows[pageID] = rows
	return nil
}

func (f *fakeBlockStore) holdNextReconcile() *reconcileGate {
	g := &reconcileGate{entered: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = g
	return g
}

func (f *fakeBlockStore) failNext() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextWith = errors.New("database unavailable")
}

func (f *fakeBlockStore) reconcileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconciles
}

func (f *fakeBlockStore) blocks(pageID string) []domain.Block {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Block, len(f.rows[pageID]))
	copy(out, f.rows[pageID])
	return out
}

func (f *fakeBlockStore) seed(pageID string, blocks ...domain.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[pageID] = blocks
}

// fakePageStore is an in-memory domain.PageStore.
type fakePageStore struct {
	mu    sync.Mutex
	pages map[string]domain.Page
}

func newFakePageStore() *fakePageStore {
	return &fakePageStore{pages: make(map[string]domain.Page)}
}

func (f *fakePageStore) CreatePage(p *domain.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[p.ID] = *p
	return nil
}

func (f *fakePageStore) GetPage(id string) (*domain.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (f *fakePageStore) ListPages() ([]domain.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Page, 0, len(f.pages))
	for _, p := range f.pages {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakePageStore) UpdatePageTitle(id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Title = title
	p.UpdatedAt = time.Now()
	f.pages[id] = p
	return nil
}

func (f *fakePageStore) DeletePage(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pages, id)
	return nil
}

func (f *fakePageStore) title(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[id].Title
}

// editorFor builds a peer document matching the page's hydrated history,
// with its own actor identity, and returns it with the update produced by
// applying fn.
func editorFor(t *testing.T, store *fakeBlockStore, pageID, actor string, base []byte, fn func(doc *crdt.AutomergeDoc)) string {
	t.Helper()
	rows, err := store.ListBlocks(pageID)
	require.NoError(t, err)
	states := make([]domain.BlockState, 0, len(rows))
	for _, b := range rows {
		states = append(states, domain.BlockState{ID: b.ID, Type: b.Type, Content: b.Content, Position: b.Position})
	}
	doc, err := crdt.Seed(pageID, states)
	require.NoError(t, err)
	require.NoError(t, doc.Underlying().SetActorID(hex.EncodeToString([]byte(actor))))
	fn(doc)
	update, err := doc.Diff(base)
	require.NoError(t, err)
	return hex.EncodeToString(update)
}
