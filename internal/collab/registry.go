package collab

import (
	"fmt"
	"sync"
	"time"

	"pagesync/internal/crdt"
	"pagesync/internal/domain"
)

// DocFactory builds a replicated document hydrated from persisted blocks.
// The default uses the automerge engine; tests may substitute.
type DocFactory func(pageID string, blocks []domain.BlockState) (crdt.Document, error)

func defaultFactory(pageID string, blocks []domain.BlockState) (crdt.Document, error) {
	return crdt.Seed(pageID, blocks)
}

// Entry is everything the sync core holds for one live page: the
// replicated document, its lock, the dirty marker, and the broadcast room.
// Consolidating these in one struct means eviction can never leave
// partially-updated parallel maps behind.
type Entry struct {
	pageID string
	room   *Room

	mu      sync.Mutex
	doc     crdt.Document
	dirtyAt time.Time // zero means clean
}

// Room returns the page's broadcast room.
func (e *Entry) Room() *Room {
	return e.room
}

// Fingerprint reads the document's fingerprint under the lock.
func (e *Entry) Fingerprint() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Fingerprint()
}

// Diff computes, under the lock, the update a peer with the given
// fingerprint is missing.
func (e *Entry) Diff(remote []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc.Diff(remote)
}

// Merge applies an update under the lock and stamps the dirty marker.
// A malformed update leaves both the document and the marker unchanged.
func (e *Entry) Merge(update []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.doc.Merge(update); err != nil {
		return err
	}
	e.dirtyAt = time.Now()
	return nil
}

func (e *Entry) dirtySince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirtyAt
}

// Registry owns the mapping from page id to live Entry. A registry-wide
// mutex guards the create/evict decision and room membership changes, so a
// join racing a last-leave never observes a half-torn-down entry.
type Registry struct {
	blocks  domain.BlockStore
	newDoc  DocFactory
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry(blocks domain.BlockStore, factory DocFactory) *Registry {
	if factory == nil {
		factory = defaultFactory
	}
	return &Registry{
		blocks:  blocks,
		newDoc:  factory,
		entries: make(map[string]*Entry),
	}
}

// Join returns the live entry for a page, hydrating it from the store on
// first access, and adds the session to the page's room. Hydration seeds
// the document with one field-map per persisted block in position order
// and stamps the dirty marker with the current time.
func (r *Registry) Join(pageID string, s Session) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pageID]
	if !ok {
		var err error
		if e, err = r.hydrate(pageID); err != nil {
			return nil, err
		}
		r.entries[pageID] = e
	}
	e.room.Join(s)
	return e, nil
}

func (r *Registry) hydrate(pageID string) (*Entry, error) {
	blocks, err := r.blocks.ListBlocks(pageID)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	states := make([]domain.BlockState, 0, len(blocks))
	for _, b := range blocks {
		states = append(states, domain.BlockState{
			ID:       b.ID,
			Type:     b.Type,
			Content:  b.Content,
			Position: b.Position,
		})
	}
	doc, err := r.newDoc(pageID, states)
	if err != nil {
		return nil, fmt.Errorf("hydrate document: %w", err)
	}
	return &Entry{
		pageID:  pageID,
		room:    newRoom(),
		doc:     doc,
		dirtyAt: time.Now(),
	}, nil
}

// Get returns the live entry for a page, if any.
func (r *Registry) Get(pageID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[pageID]
	return e, ok
}

// Leave removes the session from the page's room. When the last member
// departs, a synchronous final flush runs before the entry is evicted.
// If that flush fails the entry stays registered, still dirty, so the
// scheduler retries it. Reports whether the session was the last member.
//
// The flush runs outside the registry lock so a slow store stalls only
// this page. The entry is re-checked under the lock before eviction: a
// join that raced the flush keeps it alive, and since membership only
// changes under the registry lock no member can slip in between the
// re-check and the delete.
func (r *Registry) Leave(pageID string, s Session) (last bool, err error) {
	r.mu.Lock()
	e, ok := r.entries[pageID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	e.room.Leave(s.ID())
	if e.room.Size() > 0 {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	if err := r.flushEntry(e); err != nil {
		return true, fmt.Errorf("final flush: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[pageID]; ok && cur == e && e.room.Size() == 0 {
		delete(r.entries, pageID)
	}
	return true, nil
}

// Evict drops a page's entry. No-op if absent; eviction races are expected
// and harmless.
func (r *Registry) Evict(pageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, pageID)
}

// Flush persists a page's current document state. No-op if the page has no
// live entry. On failure the dirty marker is left untouched for retry.
func (r *Registry) Flush(pageID string) error {
	e, ok := r.Get(pageID)
	if !ok {
		return nil
	}
	return r.flushEntry(e)
}

// flushEntry reconciles the document's block sequence against persisted
// rows under the document lock, then clears the dirty marker. Holding the
// lock for the whole reconciliation keeps flushes and merges from
// interleaving, so rows never persist a torn mix of states.
func (r *Registry) flushEntry(e *Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	states, err := e.doc.Blocks()
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := r.blocks.ReconcileBlocks(e.pageID, states); err != nil {
		return fmt.Errorf("reconcile blocks: %w", err)
	}
	e.dirtyAt = time.Time{}
	return nil
}

// DirtyPages returns the pages whose dirty marker is older than the given
// age.
func (r *Registry) DirtyPages(olderThan time.Duration) []string {
	r.mu.Lock()
	snapshot := make(map[string]*Entry, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e
	}
	r.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var pages []string
	for id, e := range snapshot {
		if at := e.dirtySince(); !at.IsZero() && !at.After(cutoff) {
			pages = append(pages, id)
		}
	}
	return pages
}

// EvictIdle drops entries whose room is empty and whose document is clean.
// Covers pages orphaned by a failed last-leave flush once a later flush
// succeeds.
func (r *Registry) EvictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if e.room.Size() == 0 && e.dirtySince().IsZero() {
			delete(r.entries, id)
		}
	}
}

// Pages returns the ids of all live entries.
func (r *Registry) Pages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := make([]string, 0, len(r.entries))
	for id := range r.entries {
		pages = append(pages, id)
	}
	return pages
}
