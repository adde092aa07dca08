package cedar

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func populate(t *testing.T, s *store) map[string]any {
	t.Helper()
	for i := 0; i < 30; i++ {
		require.NoError(t, s.PutInt32(fmt.Sprintf("int-%02d", i), int32(i*i)))
	}
	require.NoError(t, s.PutString("who", "cedar"))
	require.NoError(t, s.PutBool("ok", true))
	return s.GetAll()
}

func assertState(t *testing.T, s *store, want map[string]any) {
	t.Helper()
	got := s.GetAll()
	require.Equal(t, len(want), len(got))
	for k, v := range want {
		assert.Equal(t, v, got[k], "key %s", k)
	}
}

// --------------------------------------------------------------------------
// Crash recovery
// --------------------------------------------------------------------------

func TestRecoveryFromTruncatedAFile(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	want := populate(t, s)

	// simulate a crash that tore file A down to a partial header
	require.NoError(t, os.Truncate(mirrorPath(s, aSuffix), 9))

	r := newStore(s.path, s.name, nil, nonBlocking)
	assertState(t, r, want)
	verifyImages(t, r) // A must have been repaired from B
}

func TestRecoveryFromInProgressMarkerOnA(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	want := populate(t, s)

	// simulate a crash in the middle of the A-file write protocol
	f, err := os.OpenFile(mirrorPath(s, aSuffix), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF, 0xFF, 0xFF}, 0) // dataSize = -1
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := newStore(s.path, s.name, nil, nonBlocking)
	assertState(t, r, want)
	verifyImages(t, r)
}

func TestRecoveryFromCorruptedABody(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	want := populate(t, s)

	// flip one byte inside A's data region: the checksum must reject it
	f, err := os.OpenFile(mirrorPath(s, aSuffix), os.O_RDWR, 0)
	require.NoError(t, err)
	var one [1]byte
	_, err = f.ReadAt(one[:], dataStart+5)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{one[0] ^ 0xA5}, dataStart+5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r := newStore(s.path, s.name, nil, nonBlocking)
	assertState(t, r, want)
	verifyImages(t, r)
}

func TestBothMirrorsCorruptResetsToEmpty(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	populate(t, s)

	for _, suffix := range []string{aSuffix, bSuffix} {
		f, err := os.OpenFile(mirrorPath(s, suffix), os.O_RDWR, 0)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{0xEE}, 4) // clobber both checksums
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	r := newStore(s.path, s.name, nil, nonBlocking)
	assert.Equal(t, dataStart, r.dataEnd)
	assert.Empty(t, r.data)
	verifyImages(t, r)
}

// --------------------------------------------------------------------------
// Blocking modes
// --------------------------------------------------------------------------

func TestSyncBlockingCommitsOnEveryMutation(t *testing.T) {
	s := newTestStore(t, syncBlocking)
	require.NoError(t, s.PutInt32("x", 1))

	cPath := mirrorPath(s, cSuffix)
	first, err := os.ReadFile(cPath)
	require.NoError(t, err)

	s.DisableAutoCommit()
	require.NoError(t, s.PutInt32("y", 2))
	second, err := os.ReadFile(cPath)
	require.NoError(t, err)
	assert.Equal(t, first, second, "no commit while auto commit is disabled")

	assert.True(t, s.Commit())
	third, err := os.ReadFile(cPath)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	r := newStore(s.path, s.name, nil, syncBlocking)
	v, ok := r.GetInt32("x")
	assert.True(t, ok)
	assert.Equal(t, int32(1), v)
	v, ok = r.GetInt32("y")
	assert.True(t, ok)
	assert.Equal(t, int32(2), v)
	assert.Equal(t, 0, len(r.aMap), "blocking mode must not map mirrors")
}

func TestAsyncBlockingCommitsEventually(t *testing.T) {
	s := newTestStore(t, asyncBlocking)
	require.NoError(t, s.PutString("k", "async"))

	cPath := mirrorPath(s, cSuffix)
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(cPath)
		return err == nil && len(data) > dataStart
	}, 3*time.Second, 10*time.Millisecond, "async commit never landed")

	r := newStore(s.path, s.name, nil, asyncBlocking)
	v, ok := r.GetString("k")
	assert.True(t, ok)
	assert.Equal(t, "async", v)
}

func TestNonBlockingStoreRecoversFromCommittedFile(t *testing.T) {
	// a store previously used in a blocking mode leaves a .kvc behind;
	// opening non-blocking must materialize it into the mirrors
	s := newTestStore(t, syncBlocking)
	require.NoError(t, s.PutInt64("carried", 77))

	r := newStore(s.path, s.name, nil, nonBlocking)
	v, ok := r.GetInt64("carried")
	assert.True(t, ok)
	assert.Equal(t, int64(77), v)
	assert.True(t, fileExists(mirrorPath(r, aSuffix)))
	assert.False(t, fileExists(mirrorPath(r, cSuffix)), "c file must be deleted after recovery")
	verifyImages(t, r)
}

// --------------------------------------------------------------------------
// External (sidecar) values
// --------------------------------------------------------------------------

func sidecarDir(s *store) string {
	return filepath.Join(s.path, s.name)
}

func TestExternalValueSpillsToSidecarFile(t *testing.T) {
	s := newTestStore(t, nonBlocking)

	big := make([]byte, 20*1024)
	for i := range big {
		big[i] = byte(i * 31)
	}
	require.NoError(t, s.PutBytes("big", big))

	c := s.data["big"].(*varContainer)
	require.True(t, c.external, "20 KiB must exceed the internal limit")
	fileName := c.value.(string)

	sidecar := filepath.Join(sidecarDir(s), fileName)
	require.Eventually(t, func() bool {
		return fileExists(sidecar)
	}, 3*time.Second, 10*time.Millisecond, "sidecar never written")

	got, ok := s.GetBytes("big")
	require.True(t, ok)
	assert.Equal(t, big, got)

	r := newStore(s.path, s.name, nil, nonBlocking)
	got, ok = r.GetBytes("big")
	require.True(t, ok)
	assert.Equal(t, big, got)

	// overwriting with a small value deletes the sidecar eventually
	require.NoError(t, r.PutBytes("big", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}))
	require.Eventually(t, func() bool {
		return !fileExists(sidecar)
	}, 3*time.Second, 10*time.Millisecond, "old sidecar never deleted")

	got, ok = r.GetBytes("big")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestExternalStringSurvivesReopen(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	long := make([]byte, 10*1024)
	for i := range long {
		long[i] = 'a' + byte(i%26)
	}
	require.NoError(t, s.PutString("text", string(long)))
	require.True(t, s.data["text"].(*varContainer).external)

	fileName := s.data["text"].(*varContainer).value.(string)
	require.Eventually(t, func() bool {
		return fileExists(filepath.Join(sidecarDir(s), fileName))
	}, 3*time.Second, 10*time.Millisecond)

	r := newStore(s.path, s.name, nil, nonBlocking)
	v, ok := r.GetString("text")
	require.True(t, ok)
	assert.Equal(t, string(long), v)
}

func TestRemoveExternalDeletesSidecar(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	big := make([]byte, 9000)
	require.NoError(t, s.PutBytes("k", big))
	fileName := s.data["k"].(*varContainer).value.(string)
	sidecar := filepath.Join(sidecarDir(s), fileName)
	require.Eventually(t, func() bool { return fileExists(sidecar) }, 3*time.Second, 10*time.Millisecond)

	s.Remove("k")
	require.Eventually(t, func() bool { return !fileExists(sidecar) }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, s.Contains("k"))
	verifyImages(t, s)
}
