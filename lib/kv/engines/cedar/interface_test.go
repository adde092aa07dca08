package cedar

import (
	"testing"

	"github.com/cedarkv/cedar/lib/kv"
	kvtesting "github.com/cedarkv/cedar/lib/kv/testing"
)

func TestStoreConformance(t *testing.T) {
	kvtesting.RunStoreTests(t, "NonBlocking", func(tb testing.TB) kv.Store {
		return newStore(tb.TempDir(), "db", nil, nonBlocking)
	})
	kvtesting.RunStoreTests(t, "AsyncBlocking", func(tb testing.TB) kv.Store {
		return newStore(tb.TempDir(), "db", nil, asyncBlocking)
	})
	kvtesting.RunStoreTests(t, "SyncBlocking", func(tb testing.TB) kv.Store {
		return newStore(tb.TempDir(), "db", nil, syncBlocking)
	})
}

func Benchmark(b *testing.B) {
	kvtesting.RunStoreBenchmarks(b, "Cedar", func(tb testing.TB) kv.Store {
		return newStore(tb.TempDir(), "db", nil, nonBlocking)
	})
}
