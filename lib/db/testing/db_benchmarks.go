package testing

import (
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/nsKV/lib/db"
)

// RunStoreBenchmarks runs all benchmarks for a store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, openStore(b, factory))
		})

		b.Run("PutExisting", func(b *testing.B) {
			benchmarkPutExisting(b, openStore(b, factory))
		})

		b.Run("PutLargeValue", func(b *testing.B) {
			benchmarkPutLargeValue(b, openStore(b, factory))
		})

		b.Run("PutAll", func(b *testing.B) {
			benchmarkPutAll(b, openStore(b, factory))
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, openStore(b, factory))
		})

		b.Run("Contains(not)", func(b *testing.B) {
			benchmarkContainsNot(b, openStore(b, factory))
		})

		b.Run("Size", func(b *testing.B) {
			benchmarkSize(b, openStore(b, factory))
		})

		b.Run("Iterate", func(b *testing.B) {
			benchmarkIterate(b, openStore(b, factory))
		})

		b.Run("MixedUsage", func(b *testing.B) {
			benchmarkMixedUsage(b, openStore(b, factory))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// prefill writes n entries key-0 .. key-(n-1)
func prefill(b *testing.B, s db.Store, n int) {
	b.Helper()
	batch := make(map[string]string, 1000)
	for i := 0; i < n; i++ {
		batch[fmt.Sprintf("key-%d", i)] = fmt.Sprintf("value-%d", i)
		if len(batch) == 1000 || i == n-1 {
			if err := s.PutAll(db.NsTemp, batch); err != nil {
				b.Fatalf("Prefill failed: %v", err)
			}
			batch = make(map[string]string, 1000)
		}
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Put operation with unique keys
func benchmarkPut(b *testing.B, s db.Store) {
	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			if _, err := s.Put(db.NsTemp, fmt.Sprintf("key-%d", i), "value"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for Put operation on a small set of keys
func benchmarkPutExisting(b *testing.B, s db.Store) {
	prefill(b, s, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			if _, err := s.Put(db.NsTemp, fmt.Sprintf("key-%d", r.Intn(100)), "updated"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for Put operation with values of the maximum size
func benchmarkPutLargeValue(b *testing.B, s db.Store) {
	value := strings.Repeat("x", db.MaxValueLength)
	var counter atomic.Int64

	b.SetBytes(int64(len(value)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1)
			if _, err := s.Put(db.NsTemp, fmt.Sprintf("large-%d", i), value); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for PutAll with batches of 100 entries
func benchmarkPutAll(b *testing.B, s db.Store) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch := make(map[string]string, 100)
		for j := 0; j < 100; j++ {
			batch[fmt.Sprintf("batch-%d-%d", i, j)] = "value"
		}
		if err := s.PutAll(db.NsTemp, batch); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for Get operation on existing keys
func benchmarkGet(b *testing.B, s db.Store) {
	prefill(b, s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			if _, _, err := s.Get(db.NsTemp, fmt.Sprintf("key-%d", r.Intn(1000))); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for Contains operation on missing keys
func benchmarkContainsNot(b *testing.B, s db.Store) {
	prefill(b, s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Contains(db.NsTemp, "missing"); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Benchmark for Size on a namespace with 10000 entries
func benchmarkSize(b *testing.B, s db.Store) {
	prefill(b, s, 10000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Size(db.NsTemp); err != nil {
			b.Fatal(err)
		}
	}
}

// Benchmark for a full iteration over 1000 entries
func benchmarkIterate(b *testing.B, s db.Store) {
	prefill(b, s, 1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n := 0
		err := db.ForEach(s, db.NsTemp, func(db.TransactionItem) error {
			n++
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
		if n != 1000 {
			b.Fatalf("Expected 1000 items, got %d", n)
		}
	}
}

// Benchmark for a read heavy mix of operations
func benchmarkMixedUsage(b *testing.B, s db.Store) {
	prefill(b, s, 1000)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(1000))
			var err error
			switch op := r.Intn(10); {
			case op < 6:
				_, _, err = s.Get(db.NsTemp, key)
			case op < 8:
				_, err = s.Put(db.NsTemp, key, "mixed")
			case op < 9:
				_, err = s.Contains(db.NsTemp, key)
			default:
				_, err = s.Remove(db.NsTemp, key)
			}
			if err != nil {
				b.Error(err)
				return
			}
		}
	})
}
