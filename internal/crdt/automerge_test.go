package crdt_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagesync/internal/crdt"
	"pagesync/internal/domain"
)

func seedRows() []domain.BlockState {
	return []domain.BlockState{
		{ID: "b1", Type: "paragraph", Content: `{"text":"hello"}`, Position: 0},
		{ID: "b2", Type: "heading", Content: `{"text":"title"}`, Position: 1},
	}
}

// client builds a peer document with the same hydrated history as the
// server but its own actor identity, the way a browser client starts from
// the initial sync.
func client(t *testing.T, pageID string, rows []domain.BlockState, actor string) *crdt.AutomergeDoc {
	t.Helper()
	d, err := crdt.Seed(pageID, rows)
	require.NoError(t, err)
	require.NoError(t, d.Underlying().SetActorID(hex.EncodeToString([]byte(actor))))
	return d
}

func TestEmptyDocumentHasEmptyFingerprint(t *testing.T) {
	d, err := crdt.Seed("page-1", nil)
	require.NoError(t, err)

	assert.Empty(t, d.Fingerprint())

	blocks, err := d.Blocks()
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestSeedPreservesPositionOrder(t *testing.T) {
	d, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)

	blocks, err := d.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, "b1", blocks[0].ID)
	assert.Equal(t, 0, blocks[0].Position)
	assert.Equal(t, "b2", blocks[1].ID)
	assert.Equal(t, 1, blocks[1].Position)
	assert.Equal(t, `{"text":"title"}`, blocks[1].Content)
}

func TestSeedIsDeterministic(t *testing.T) {
	a, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)
	b, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)

	// Same page, same rows: identical history, identical fingerprint.
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEmpty(t, a.Fingerprint())
}

func TestDiffAgainstEmptyFingerprintCarriesEverything(t *testing.T) {
	server, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)

	update, err := server.Diff(nil)
	require.NoError(t, err)
	require.NotEmpty(t, update)

	fresh := crdt.New()
	require.NoError(t, fresh.Merge(update))

	blocks, err := fresh.Blocks()
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
	assert.Equal(t, server.Fingerprint(), fresh.Fingerprint())
}

func TestDiffAgainstOwnFingerprintIsEmpty(t *testing.T) {
	server, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)

	update, err := server.Diff(server.Fingerprint())
	require.NoError(t, err)
	assert.Empty(t, update)
}

func TestConcurrentEditsConvergeRegardlessOfOrder(t *testing.T) {
	rows := seedRows()
	server, err := crdt.Seed("page-1", rows)
	require.NoError(t, err)

	alice := client(t, "page-1", rows, "alice")
	bob := client(t, "page-1", rows, "bob")

	base := server.Fingerprint()
	require.NoError(t, alice.Underlying().Path("blocks", 0, "content").Set(`{"text":"alice was here"}`))
	require.NoError(t, bob.Underlying().Path("blocks", 1, "content").Set(`{"text":"bob was here"}`))

	fromAlice, err := alice.Diff(base)
	require.NoError(t, err)
	fromBob, err := bob.Diff(base)
	require.NoError(t, err)

	// Apply in opposite orders on two replicas of the server doc.
	one, err := crdt.Seed("page-1", rows)
	require.NoError(t, err)
	two, err := crdt.Seed("page-1", rows)
	require.NoError(t, err)

	require.NoError(t, one.Merge(fromAlice))
	require.NoError(t, one.Merge(fromBob))
	require.NoError(t, two.Merge(fromBob))
	require.NoError(t, two.Merge(fromAlice))

	blocksOne, err := one.Blocks()
	require.NoError(t, err)
	blocksTwo, err := two.Blocks()
	require.NoError(t, err)

	assert.Equal(t, blocksOne, blocksTwo)
	assert.Equal(t, `{"text":"alice was here"}`, blocksOne[0].Content)
	assert.Equal(t, `{"text":"bob was here"}`, blocksOne[1].Content)
}

func TestMergeIsIdempotent(t *testing.T) {
	rows := seedRows()
	server, err := crdt.Seed("page-1", rows)
	require.NoError(t, err)

	alice := client(t, "page-1", rows, "alice")
	require.NoError(t, alice.Underlying().Path("blocks", 0, "content").Set(`{"text":"v2"}`))
	update, err := alice.Diff(server.Fingerprint())
	require.NoError(t, err)

	require.NoError(t, server.Merge(update))
	after := server.Fingerprint()
	require.NoError(t, server.Merge(update))

	assert.Equal(t, after, server.Fingerprint())
	blocks, err := server.Blocks()
	require.NoError(t, err)
	assert.Equal(t, `{"text":"v2"}`, blocks[0].Content)
}

func TestAppendedBlockGetsIndexPosition(t *testing.T) {
	rows := seedRows()
	server, err := crdt.Seed("page-1", rows)
	require.NoError(t, err)

	alice := client(t, "page-1", rows, "alice")
	base := server.Fingerprint()
	require.NoError(t, alice.Underlying().Path("blocks", 2, "id").Set("b3"))
	require.NoError(t, alice.Underlying().Path("blocks", 2, "type").Set("paragraph"))
	require.NoError(t, alice.Underlying().Path("blocks", 2, "content").Set(`{"text":"new"}`))
	require.NoError(t, alice.Underlying().Path("blocks", 2, "position").Set(99)) // stale on purpose

	update, err := alice.Diff(base)
	require.NoError(t, err)
	require.NoError(t, server.Merge(update))

	blocks, err := server.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, "b3", blocks[2].ID)
	// The sequence index is authoritative, not the stored field.
	assert.Equal(t, 2, blocks[2].Position)
}

func TestMergeRejectsGarbage(t *testing.T) {
	server, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)

	before := server.Fingerprint()
	err = server.Merge([]byte("definitely not an update"))
	require.Error(t, err)

	// Document unchanged.
	assert.Equal(t, before, server.Fingerprint())
}

func TestDiffRejectsMalformedFingerprint(t *testing.T) {
	server, err := crdt.Seed("page-1", seedRows())
	require.NoError(t, err)

	_, err = server.Diff(bytes.Repeat([]byte{0xab}, 31))
	require.Error(t, err)
}
