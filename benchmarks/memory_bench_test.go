// Package benchmarks provides memory footprint benchmarks.
package benchmarks

import (
	"fmt"
	"runtime"
	"testing"
)

func BenchmarkMemoryEngine(b *testing.B) {
	numEngines := 1000
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < numEngines; i++ {
		_ = NewEngine()
	}
	runtime.GC()
	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	bytesPerEngine := (after.TotalAlloc - before.TotalAlloc) / uint64(numEngines)
	b.ReportMetric(float64(bytesPerEngine)/1024, "KB/engine")
}

func BenchmarkMemorySequences(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("sequences=%d", n), func(b *testing.B) {
			e := NewEngine()
			var before runtime.MemStats
			runtime.ReadMemStats(&before)
			if err := GenSequences(e, n, 5); err != nil {
				b.Fatal(err)
			}
			runtime.GC()
			var after runtime.MemStats
			runtime.ReadMemStats(&after)
			bytesPerSequence := (after.TotalAlloc - before.TotalAlloc) / uint64(n)
			b.ReportMetric(float64(bytesPerSequence), "B/sequence")
		})
	}
}
