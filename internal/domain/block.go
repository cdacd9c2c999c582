package domain

import "time"

// Block is one persisted row of a page's content.
// ID is assigned at creation and stable for the block's lifetime.
// Position is the zero-based rank among siblings; after any committed
// mutation positions within a page are dense with no gaps or duplicates.
type Block struct {
	ID        string    `json:"id"`
	PageID    string    `json:"pageId"`
	Type      string    `json:"type"`
	Content   string    `json:"content"` // opaque JSON payload
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BlockState is the in-memory field-map a replicated document carries for
// one block. It is what gets reconciled against persisted rows on flush.
type BlockState struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Position int    `json:"position"`
}

type BlockStore interface {
	// ListBlocks returns all blocks for a page ordered by position.
	ListBlocks(pageID string) ([]Block, error)

	// ReconcileBlocks replaces the persisted state of a page with the given
	// block states in a single transaction: upsert by id with
	// position = slice index, delete rows whose id no longer appears.
	ReconcileBlocks(pageID string, states []BlockState) error
}
