package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tsmove/internal/parse"
)

func sampleResult() *parse.Result {
	return &parse.Result{
		Outcome: parse.Full,
		Declarations: []parse.Declaration{
			{Kind: parse.KindImport, Specifier: "../utils/format", Start: 32, End: 47, Line: 1},
			{Kind: parse.KindRequire, Specifier: "./config", Start: 80, End: 88, Line: 3},
		},
		NodesVisited:    42,
		MaxDepthReached: 6,
	}
}

func TestPutGet(t *testing.T) {
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	defer s.Close()

	assert.FileExists(t, filepath.Join(root, ".tsmove", "cache", "refs.db"))

	digest := Digest("ts", []byte("import x from '../utils/format';"))
	_, ok, err := s.Get(digest)
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleResult()
	require.NoError(t, s.Put(digest, want))

	got, ok, err := s.Get(digest)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, int64(2), st.Declarations)
	assert.Positive(t, st.PayloadBytes)
}

func TestDegradedResultsAreNotCached(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	res := sampleResult()
	res.Outcome = parse.Degraded
	digest := Digest("ts", []byte("x"))
	require.NoError(t, s.Put(digest, res))
	require.NoError(t, s.Put(Digest("ts", []byte("y")), nil))

	_, ok, err := s.Get(digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistsAcrossOpen(t *testing.T) {
	root := t.TempDir()
	digest := Digest("tsx", []byte("content"))

	s, err := Open(root)
	require.NoError(t, err)
	require.NoError(t, s.Put(digest, sampleResult()))
	require.NoError(t, s.Close())

	s, err = Open(root)
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(digest)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Clear())
	_, ok, err = s.Get(digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDigest(t *testing.T) {
	a := Digest("ts", []byte("same"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Digest("ts", []byte("same")))
	assert.NotEqual(t, a, Digest("tsx", []byte("same")))
	assert.NotEqual(t, a, Digest("ts", []byte("other")))
}
