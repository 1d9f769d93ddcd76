package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dmitrijs2005/rosepanel/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterDoc struct {
	Counter int               `json:"counter"`
	Tags    map[string]string `json:"tags,omitempty"`
}

func newFile(t *testing.T, seed any) *File {
	t.Helper()
	return New().File(filepath.Join(t.TempDir(), "nested", "doc.json"), seed)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "accounts//a@b.c//password", Key("accounts", "a@b.c", "password"))
	assert.Equal(t, "single", Key("single"))
}

func TestFile_SeedsMissingDocument(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{"first_start": true})

	assert.False(t, f.Exists())

	var first bool
	ok, err := f.Lookup(ctx, "first_start", &first)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, first)
	assert.True(t, f.Exists())
}

func TestFile_NilSeedDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, nil)

	_, err := f.Get(ctx, "anything")
	assert.ErrorIs(t, err, common.ErrNotFound)

	var doc map[string]any
	_, err = f.LoadAll(ctx, &doc)
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.False(t, f.Exists())
}

func TestFile_NilSeedKeepsMissingDirectoryAbsent(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "thorn_gone")
	f := New().File(filepath.Join(dir, "config.json"), nil)

	var doc counterDoc
	err := f.Update(ctx, &doc, func() error {
		doc.Counter++
		return nil
	})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.Delete(ctx, "counter")
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.NoDirExists(t, dir)
}

func TestFile_SetGetNested(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{})

	require.NoError(t, f.Set(ctx, Key("accounts", "a@b.c", "password"), "secret"))
	require.NoError(t, f.Set(ctx, Key("accounts", "a@b.c", "permissions"), map[string]bool{"1": true}))

	raw, err := f.Get(ctx, Key("accounts", "a@b.c", "password"))
	require.NoError(t, err)
	assert.JSONEq(t, `"secret"`, string(raw))

	var perms map[string]bool
	ok, err := f.Lookup(ctx, Key("accounts", "a@b.c", "permissions"), &perms)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]bool{"1": true}, perms)

	_, err = f.Get(ctx, Key("accounts", "nobody", "password"))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestFile_SetThroughScalarFails(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{"leaf": 1})

	err := f.Set(ctx, Key("leaf", "child"), 2)
	assert.Error(t, err)
}

func TestFile_LookupLeavesDefault(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{})

	value := "default"
	ok, err := f.Lookup(ctx, "missing", &value)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "default", value)
}

func TestFile_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{"a": map[string]any{"b": 1}})

	existed, err := f.Delete(ctx, Key("a", "b"))
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = f.Delete(ctx, Key("a", "b"))
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = f.Delete(ctx, Key("x", "y"))
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestFile_LargeIntegersSurvive(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{})

	const big = int64(1) << 60
	require.NoError(t, f.Set(ctx, "n", big))

	var got int64
	_, err := f.Lookup(ctx, "n", &got)
	require.NoError(t, err)
	assert.Equal(t, big, got)
}

func TestFile_MalformedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, map[string]any{})
	require.NoError(t, os.MkdirAll(filepath.Dir(f.Path()), 0o750))
	require.NoError(t, os.WriteFile(f.Path(), []byte("{not json"), 0o600))

	_, err := f.Get(ctx, "a")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrNotFound)
}

func TestFile_FillAndLoadAll(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, counterDoc{})

	var doc counterDoc
	rev, err := f.LoadAll(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	require.NoError(t, f.Fill(ctx, counterDoc{Counter: 7, Tags: map[string]string{"k": "v"}}))

	rev, err = f.LoadAll(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, counterDoc{Counter: 7, Tags: map[string]string{"k": "v"}}, doc)
}

func TestFile_SwapDetectsConflict(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, counterDoc{})

	var doc counterDoc
	rev, err := f.LoadAll(ctx, &doc)
	require.NoError(t, err)

	require.NoError(t, f.Set(ctx, "counter", 5))

	doc.Counter = 1
	err = f.Swap(ctx, rev, doc)
	assert.ErrorIs(t, err, common.ErrRevisionConflict)

	rev, err = f.LoadAll(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, 5, doc.Counter)

	doc.Counter = 6
	require.NoError(t, f.Swap(ctx, rev, doc))
	_, err = f.LoadAll(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, 6, doc.Counter)
}

func TestFile_UpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	f := newFile(t, counterDoc{Counter: 1})

	var doc counterDoc
	err := f.Update(ctx, &doc, func() error {
		doc.Counter = 100
		return common.ErrServerExists
	})
	assert.ErrorIs(t, err, common.ErrServerExists)

	var check counterDoc
	_, err = f.LoadAll(ctx, &check)
	require.NoError(t, err)
	assert.Equal(t, 1, check.Counter)
}

func TestFile_ConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "doc.json")
	const workers = 20

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// separate handles behave like separate processes
			f := New().File(path, counterDoc{})
			var doc counterDoc
			assert.NoError(t, f.Update(ctx, &doc, func() error {
				doc.Counter++
				return nil
			}))
		}()
	}
	wg.Wait()

	var doc counterDoc
	_, err := New().File(path, nil).LoadAll(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, workers, doc.Counter)
}
