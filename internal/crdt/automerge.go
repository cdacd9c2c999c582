package crdt

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/automerge/automerge-go"

	"pagesync/internal/domain"
)

const changeHashLen = 32

// blocksKey is the root map key holding the ordered block list.
const blocksKey = "blocks"

// AutomergeDoc implements Document on top of automerge-go. The document
// root holds a "blocks" list of maps with id/type/content/position fields.
type AutomergeDoc struct {
	doc *automerge.Doc
}

// New returns an empty document.
func New() *AutomergeDoc {
	return &AutomergeDoc{doc: automerge.New()}
}

// Seed builds a document hydrated from persisted blocks, in the order
// given. Hydration is deterministic: the same page id and the same rows
// always produce the same change history, so a page evicted after a flush
// and re-hydrated from those rows reports an identical fingerprint.
func Seed(pageID string, blocks []domain.BlockState) (*AutomergeDoc, error) {
	doc := automerge.New()
	if err := doc.SetActorID(hex.EncodeToString([]byte(pageID))); err != nil {
		return nil, fmt.Errorf("set actor id: %w", err)
	}
	if len(blocks) == 0 {
		return &AutomergeDoc{doc: doc}, nil
	}

	// Fields are set one by one in a fixed order rather than from a Go map,
	// so the generated change history does not depend on map iteration
	// order.
	for i, b := range blocks {
		for _, field := range []struct {
			key   string
			value any
		}{
			{"id", b.ID},
			{"type", b.Type},
			{"content", b.Content},
			{"position", b.Position},
		} {
			if err := doc.Path(blocksKey, i, field.key).Set(field.value); err != nil {
				return nil, fmt.Errorf("seed block %d %s: %w", i, field.key, err)
			}
		}
	}
	epoch := time.Unix(0, 0)
	if _, err := doc.Commit("hydrate", automerge.CommitOptions{Time: &epoch}); err != nil {
		return nil, fmt.Errorf("commit hydration: %w", err)
	}
	return &AutomergeDoc{doc: doc}, nil
}

// Underlying exposes the wrapped automerge document. Used by peers (and
// tests) that drive edits through the engine directly.
func (d *AutomergeDoc) Underlying() *automerge.Doc {
	return d.doc
}

func (d *AutomergeDoc) Fingerprint() []byte {
	heads := d.doc.Heads()
	buf := make([]byte, 0, len(heads)*changeHashLen)
	for _, h := range heads {
		buf = append(buf, h[:]...)
	}
	return buf
}

func (d *AutomergeDoc) Diff(remote []byte) ([]byte, error) {
	since, err := decodeFingerprint(remote)
	if err != nil {
		return nil, err
	}
	changes, err := d.doc.Changes(since...)
	if err != nil {
		return nil, fmt.Errorf("collect changes: %w", err)
	}
	var buf bytes.Buffer
	for _, c := range changes {
		buf.Write(c.Save())
	}
	return buf.Bytes(), nil
}

func (d *AutomergeDoc) Merge(update []byte) error {
	changes, err := automerge.LoadChanges(update)
	if err != nil {
		return fmt.Errorf("decode update: %w", err)
	}
	if err := d.doc.Apply(changes...); err != nil {
		return fmt.Errorf("apply update: %w", err)
	}
	return nil
}

func (d *AutomergeDoc) Blocks() ([]domain.BlockState, error) {
	v, err := d.doc.Path(blocksKey).Get()
	if err != nil {
		return nil, fmt.Errorf("read blocks: %w", err)
	}
	if v.Kind() != automerge.KindList {
		return nil, nil
	}
	raw, ok := v.Interface().([]any)
	if !ok {
		return nil, fmt.Errorf("blocks is not a list")
	}

	states := make([]domain.BlockState, 0, len(raw))
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("block %d is not a map", i)
		}
		states = append(states, domain.BlockState{
			ID:       asString(entry["id"]),
			Type:     asString(entry["type"]),
			Content:  asString(entry["content"]),
			Position: i, // index is authoritative
		})
	}
	return states, nil
}

func decodeFingerprint(fp []byte) ([]automerge.ChangeHash, error) {
	if len(fp)%changeHashLen != 0 {
		return nil, fmt.Errorf("fingerprint length %d is not a multiple of %d", len(fp), changeHashLen)
	}
	heads := make([]automerge.ChangeHash, 0, len(fp)/changeHashLen)
	for i := 0; i < len(fp); i += changeHashLen {
		var h automerge.ChangeHash
		copy(h[:], fp[i:i+changeHashLen])
		heads = append(heads, h)
	}
	return heads, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
