package kv

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nsKV/cmd/util"
	"github.com/ValentinKolb/nsKV/lib/db"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("cli")

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for nsKV stores",
		Long: util.WrapString("Runs a fixed set of benchmarks against the configured store and namespace. " +
			"All keys written by the benchmarks are removed afterwards, do not use a namespace holding data with the same key prefix."),
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix      = "__perf"
	perfLargeValueSize = db.MaxValueLength
	perfNumThreads     = 10
	perfKeySpread      = 100
	perfSkip           = make([]string, 0)

	// perfTimers holds one latency timer per benchmark
	perfTimers = metrics.NewRegistry()
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, db.MaxValueLength, util.WrapString("How large the value for the put-large test should be (in characters)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSize = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 {
		return fmt.Errorf("keys must be positive, got %d", perfKeySpread)
	}
	if perfLargeValueSize > db.MaxValueLength {
		return fmt.Errorf("large-value-size must be at most %d", db.MaxValueLength)
	}
	return nil
}

// benchmark describes one performance test
type benchmark struct {
	name string
	// prefill writes the test keys before the timer starts
	prefill bool
	op      func(key string, counter int) error
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for nsKV stores")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetStoreConfig().String())
	fmt.Printf("Namespace: %s\n", namespace)
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("staring tests...")

	largeValue := strings.Repeat("x", perfLargeValueSize)

	benchmarks := []benchmark{
		{name: "put", op: func(key string, _ int) error {
			_, err := kvStore.Put(namespace, key, "test")
			return err
		}},
		{name: "put-large", op: func(key string, _ int) error {
			_, err := kvStore.Put(namespace, key, largeValue)
			return err
		}},
		{name: "get", prefill: true, op: func(key string, _ int) error {
			_, _, err := kvStore.Get(namespace, key)
			return err
		}},
		{name: "remove", prefill: true, op: func(key string, _ int) error {
			_, err := kvStore.Remove(namespace, key)
			return err
		}},
		{name: "has", prefill: true, op: func(key string, _ int) error {
			_, err := kvStore.Contains(namespace, key)
			return err
		}},
		{name: "has-not", op: func(_ string, counter int) error {
			_, err := kvStore.Contains(namespace, fmt.Sprintf("%s/has-not-%d", perfKeyPrefix, counter%100))
			return err
		}},
		{name: "size", prefill: true, op: func(string, int) error {
			_, err := kvStore.Size(namespace)
			return err
		}},
		{name: "mixed", prefill: true, op: func(key string, counter int) error {
			var err error
			switch counter % 4 {
			case 0: // put
				_, err = kvStore.Put(namespace, key, "test")
			case 1: // get
				_, _, err = kvStore.Get(namespace, key)
			case 2: // remove
				_, err = kvStore.Remove(namespace, key)
			case 3: // has
				_, err = kvStore.Contains(namespace, key)
			}
			return err
		}},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, bm := range benchmarks {
		if shouldSkip(bm.name) {
			results[bm.name] = testing.BenchmarkResult{}
			printResult(bm.name, testing.BenchmarkResult{}, nil)
			continue
		}
		timer := metrics.GetOrRegisterTimer(bm.name, perfTimers)
		result := testing.Benchmark(runBenchmark(bm, timer))
		results[bm.name] = result
		printResult(bm.name, result, timer)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runBenchmark turns a benchmark description into a testing function
func runBenchmark(bm benchmark, timer metrics.Timer) func(b *testing.B) {
	return func(b *testing.B) {
		// prepare keys
		getKey, iter := getKeys(bm.name)

		if bm.prefill {
			batch := make(map[string]string, perfKeySpread)
			iter(func(k string) { batch[k] = "test" })
			if err := kvStore.PutAll(namespace, batch); err != nil {
				log.Errorf("(%s) - error writing keys: %v", bm.name, err)
			}
		}

		// cleanup
		b.Cleanup(func() {
			keys := make([]string, 0, perfKeySpread)
			iter(func(k string) { keys = append(keys, k) })
			if err := kvStore.RemoveAll(namespace, keys); err != nil {
				log.Errorf("(%s) - error removing keys: %v", bm.name, err)
			}
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				if err := bm.op(getKey(counter), counter); err != nil {
					log.Errorf("(%s) - error performing operation: %v", bm.name, err)
				}
				timer.UpdateSince(start)
				counter++
			}
		})
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult, timer metrics.Timer) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
	if timer != nil {
		ps := timer.Snapshot().Percentiles([]float64{0.5, 0.99})
		fmt.Printf("\tp50=%s p99=%s", time.Duration(ps[0]), time.Duration(ps[1]))
	}
	fmt.Println()
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	config := util.GetStoreConfig()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P99", "Skipped",
		"Engine", "Location", "Init", "Namespace",
		"Threads", "LargeValueSize", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string
		var p50, p99 time.Duration

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
			ps := metrics.GetOrRegisterTimer(test, perfTimers).Snapshot().Percentiles([]float64{0.5, 0.99})
			p50, p99 = time.Duration(ps[0]), time.Duration(ps[1])
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			p50.String(),
			p99.String(),
			skipped,
			string(config.Engine),
			config.Location,
			config.Init,
			string(namespace),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSize),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
