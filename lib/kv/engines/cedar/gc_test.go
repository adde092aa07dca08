package cedar

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const intRecordSize = 2 + 7 + 4 // type + keyLen + "key-000" + int32

func fillIntKeys(t *testing.T, s *store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, s.PutInt32(fmt.Sprintf("key-%03d", i), int32(i)))
	}
}

func TestGCFiresOnSegmentThreshold(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	fillIntKeys(t, s, 200)
	before := s.dataEnd
	assert.Equal(t, dataStart+200*intRecordSize, before)

	for i := 0; i < 100; i++ {
		s.Remove(fmt.Sprintf("key-%03d", i))
	}
	// the 80-segment threshold must have fired at least one collection
	assert.Less(t, len(s.invalids), 100, "GC never fired")
	assert.Less(t, s.dataEnd, before)

	s.gc(0)
	assert.Equal(t, dataStart+100*intRecordSize, s.dataEnd, "live bytes only after GC")
	assert.Equal(t, 0, s.invalidBytes)
	assert.Empty(t, s.invalids)
	verifyImages(t, s)

	for i := 100; i < 200; i++ {
		key := fmt.Sprintf("key-%03d", i)
		if v, ok := s.GetInt32(key); !ok || v != int32(i) {
			t.Fatalf("GetInt32(%s) = (%d, %v)", key, v, ok)
		}
	}
}

func TestGCRepairsOffsetsForMixedSizes(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	// interleave fixed and variable records of assorted sizes
	for i := 0; i < 60; i++ {
		require.NoError(t, s.PutInt64(fmt.Sprintf("num-%02d", i), int64(i)*7))
		require.NoError(t, s.PutString(fmt.Sprintf("str-%02d", i), fmt.Sprintf("value-%0*d", i%13+1, i)))
	}
	for i := 0; i < 60; i += 2 {
		s.Remove(fmt.Sprintf("num-%02d", i))
	}
	for i := 1; i < 60; i += 3 {
		s.Remove(fmt.Sprintf("str-%02d", i))
	}
	s.gc(0)

	assert.Equal(t, 0, s.invalidBytes)
	verifyImages(t, s)

	// every surviving container must still decode to its value (offset
	// integrity after compaction)
	for i := 1; i < 60; i += 2 {
		key := fmt.Sprintf("num-%02d", i)
		if v, ok := s.GetInt64(key); !ok || v != int64(i)*7 {
			t.Fatalf("GetInt64(%s) = (%d, %v)", key, v, ok)
		}
	}
	for i := 0; i < 60; i++ {
		if i%3 == 1 {
			continue
		}
		key := fmt.Sprintf("str-%02d", i)
		want := fmt.Sprintf("value-%0*d", i%13+1, i)
		if v, ok := s.GetString(key); !ok || v != want {
			t.Fatalf("GetString(%s) = (%q, %v), want %q", key, v, ok, want)
		}
	}

	// and the compacted image must parse identically on reopen
	r := reopen(t, s)
	assert.Equal(t, s.dataEnd, r.dataEnd)
	for i := 1; i < 60; i += 2 {
		key := fmt.Sprintf("num-%02d", i)
		if v, ok := r.GetInt32(key); ok {
			t.Fatalf("wrong type for %s: %d", key, v)
		}
		if v, ok := r.GetInt64(key); !ok || v != int64(i)*7 {
			t.Fatalf("reopened GetInt64(%s) = (%d, %v)", key, v, ok)
		}
	}
}

func TestInvalidSegmentAccounting(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	fillIntKeys(t, s, 20)
	for i := 0; i < 10; i++ {
		s.Remove(fmt.Sprintf("key-%03d", i))
	}
	total := 0
	for _, seg := range s.invalids {
		assert.Greater(t, seg.end, seg.start)
		total += seg.end - seg.start
	}
	assert.Equal(t, s.invalidBytes, total)

	// disjointness
	for i, a := range s.invalids {
		for j, b := range s.invalids {
			if i == j {
				continue
			}
			overlap := a.start < b.end && b.start < a.end
			assert.False(t, overlap, "segments %v and %v overlap", a, b)
		}
	}

	s.gc(0)
	assert.Equal(t, 0, s.invalidBytes)
	assert.Empty(t, s.invalids)
}

func TestMergeInvalids(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	s.invalids = []segment{{30, 40}, {10, 20}, {20, 30}, {50, 60}}
	s.invalidBytes = 40
	// gc sorts before merging; emulate its first two steps
	s.invalids = []segment{{10, 20}, {20, 30}, {30, 40}, {50, 60}}
	s.mergeInvalids()
	assert.Equal(t, []segment{{10, 40}, {50, 60}}, s.invalids)
	s.clearInvalid()
}

func TestCapacityGrowthAndTruncate(t *testing.T) {
	s := newTestStore(t, nonBlocking)
	initial := len(s.buf.B)
	assert.Equal(t, pageSize, initial)

	// push well past several growth steps
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i)
	}
	count := (4*doubleLimit)/len(payload) + 8
	for i := 0; i < count; i++ {
		require.NoError(t, s.PutBytes(fmt.Sprintf("chunk-%04d", i), payload))
	}
	grown := len(s.buf.B)
	assert.Greater(t, grown, initial)
	assert.GreaterOrEqual(t, grown, s.dataEnd)
	verifyImages(t, s)

	// dropping nearly everything then collecting must shrink the file
	for i := 0; i < count-1; i++ {
		s.Remove(fmt.Sprintf("chunk-%04d", i))
	}
	s.gc(0)
	assert.LessOrEqual(t, len(s.buf.B), grown)
	assert.GreaterOrEqual(t, len(s.buf.B), s.dataEnd+pageSize-1)
	verifyImages(t, s)

	if v, ok := s.GetBytes(fmt.Sprintf("chunk-%04d", count-1)); !ok || len(v) != len(payload) {
		t.Fatalf("survivor lost after truncate: (%d bytes, %v)", len(v), ok)
	}

	r := reopen(t, s)
	if v, ok := r.GetBytes(fmt.Sprintf("chunk-%04d", count-1)); !ok || len(v) != len(payload) {
		t.Fatalf("survivor lost after reopen: (%d bytes, %v)", len(v), ok)
	}
}

func TestGetNewCapacity(t *testing.T) {
	c, err := getNewCapacity(pageSize, 10)
	require.NoError(t, err)
	assert.Equal(t, pageSize, c)

	c, err = getNewCapacity(pageSize, pageSize+1)
	require.NoError(t, err)
	assert.Equal(t, pageSize*2, c)

	// beyond the doubling limit growth turns linear
	c, err = getNewCapacity(doubleLimit*2, doubleLimit*2+1)
	require.NoError(t, err)
	assert.Equal(t, doubleLimit*3, c)

	_, err = getNewCapacity(pageSize, dataSizeLimit+1)
	assert.Error(t, err)
}
