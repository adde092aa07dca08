package testing

import (
	"fmt"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// RunStoreBenchmarks runs the standard benchmark set for a Store
// implementation. Besides ns/op, each benchmark reports p50/p99 latency
// percentiles collected through a go-metrics histogram.
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("PutInt64", func(b *testing.B) {
			store := factory(b)
			benchLatency(b, func(i int) {
				_ = store.PutInt64(benchKey(i), int64(i))
			})
		})
		b.Run("PutInt64Existing", func(b *testing.B) {
			store := factory(b)
			_ = store.PutInt64("hot", 0)
			benchLatency(b, func(i int) {
				_ = store.PutInt64("hot", int64(i))
			})
		})
		b.Run("PutString", func(b *testing.B) {
			store := factory(b)
			benchLatency(b, func(i int) {
				_ = store.PutString(benchKey(i), "benchmark-value")
			})
		})
		b.Run("Get", func(b *testing.B) {
			store := factory(b)
			for i := 0; i < 128; i++ {
				_ = store.PutInt64(benchKey(i), int64(i))
			}
			benchLatency(b, func(i int) {
				_, _ = store.GetInt64(benchKey(i % 128))
			})
		})
		b.Run("MixedUsage", func(b *testing.B) {
			store := factory(b)
			benchLatency(b, func(i int) {
				key := benchKey(i % 256)
				switch i % 4 {
				case 0:
					_ = store.PutInt64(key, int64(i))
				case 1:
					_ = store.PutString(key, "mixed")
				case 2:
					_, _ = store.GetInt64(key)
				default:
					store.Remove(key)
				}
			})
		})
	})
}

func benchKey(i int) string {
	return fmt.Sprintf("bench-key-%d", i)
}

// benchLatency drives op b.N times while sampling per-call latency.
func benchLatency(b *testing.B, op func(i int)) {
	hist := gometrics.NewHistogram(gometrics.NewExpDecaySample(1028, 0.015))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		op(i)
		hist.Update(time.Since(start).Nanoseconds())
	}
	b.StopTimer()
	b.ReportMetric(hist.Percentile(0.5), "p50-ns")
	b.ReportMetric(hist.Percentile(0.99), "p99-ns")
}
