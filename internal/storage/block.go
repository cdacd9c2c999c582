package storage

import (
	"fmt"
	"time"

	"pagesync/internal/domain"
)

// BlockStore implements domain.BlockStore.
type BlockStore struct {
	db *DB
}

func NewBlockStore(db *DB) *BlockStore {
	return &BlockStore{db: db}
}

func (s *BlockStore) ListBlocks(pageID string) ([]domain.Block, error) {
	rows, err := s.db.conn.Query(
		s.db.rebind(`SELECT id, page_id, type, content, position, created_at, updated_at FROM blocks WHERE page_id = ? ORDER BY position ASC`),
		pageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []domain.Block
	for rows.Next() {
		var b domain.Block
		if err := rows.Scan(&b.ID, &b.PageID, &b.Type, &b.Content, &b.Position, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// ReconcileBlocks replaces the persisted state of a page with the given
// block sequence in one transaction. Walks the sequence by index: entries
// whose id matches an existing row update that row with position = index,
// new ids insert a row, and rows whose id no longer appears are deleted.
// On any failure the transaction rolls back in full.
func (s *BlockStore) ReconcileBlocks(pageID string, states []domain.BlockState) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(s.db.rebind(`SELECT id FROM blocks WHERE page_id = ?`), pageID)
	if err != nil {
		return fmt.Errorf("list existing blocks: %w", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan block id: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("read existing blocks: %w", err)
	}

	now := time.Now()
	for i, st := range states {
		if _, ok := existing[st.ID]; ok {
			if _, err := tx.Exec(
				s.db.rebind(`UPDATE blocks SET type = ?, content = ?, position = ?, updated_at = ? WHERE id = ?`),
				st.Type, st.Content, i, now, st.ID,
			); err != nil {
				return fmt.Errorf("update block %s: %w", st.ID, err)
			}
			delete(existing, st.ID)
		} else {
			if _, err := tx.Exec(
				s.db.rebind(`INSERT INTO blocks (id, page_id, type, content, position, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
				st.ID, pageID, st.Type, st.Content, i, now, now,
			); err != nil {
				return fmt.Errorf("insert block %s: %w", st.ID, err)
			}
		}
	}

	// Whatever is left was removed from the document
	for id := range existing {
		if _, err := tx.Exec(s.db.rebind(`DELETE FROM blocks WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete block %s: %w", id, err)
		}
	}

	return tx.Commit()
}
