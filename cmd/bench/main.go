// Command bench runs a synthetic workload against the resource
// coordinator: a Zipf-skewed read/write mix on the cache hierarchy,
// pooled buffer traffic, and a trickle of scheduled tasks, while the
// pressure monitor reacts to real heap usage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescoord/rescoord/internal/config"
	"github.com/rescoord/rescoord/internal/coordinator"
	"github.com/rescoord/rescoord/pkg/pool"
	"github.com/rescoord/rescoord/pkg/types"
	"github.com/rescoord/rescoord/pkg/utils"
)

func main() {
	var (
		fastCap   = flag.Int("fast", 1024, "fast tier capacity (entries)")
		mediumCap = flag.Int("medium", 8192, "medium tier capacity (entries)")
		slowCap   = flag.Int("slow", 65536, "slow tier capacity (entries)")
		policy    = flag.String("policy", "lru", "fast/medium tier policy: lru | lfu | arc")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")
		taskPct  = flag.Int("tasks", 5, "scheduled-task percentage of writes [0..100]")

		keys  = flag.Int("keys", 1_000_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		totalBytes  = flag.Uint64("total_bytes", 0, "memory budget for pressure ratios (0 = runtime.MemStats.Sys)")
		sampleEvery = flag.Duration("sample", time.Second, "pressure sample interval")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsPort = flag.Int("metrics", 9090, "Prometheus metrics port (0 = disabled)")
		logLevel    = flag.String("log", "WARN", "log level")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	cfg := config.NewDefault()
	cfg.Global.LogLevel = *logLevel
	cfg.Cache.Fast = config.TierConfig{Capacity: *fastCap, Policy: *policy}
	cfg.Cache.Medium = config.TierConfig{Capacity: *mediumCap, Policy: *policy}
	cfg.Cache.Slow = config.TierConfig{Capacity: *slowCap, Policy: "arc"}
	cfg.Pressure.SampleInterval = *sampleEvery
	cfg.Pressure.TotalBytes = *totalBytes
	cfg.Metrics.Enabled = *metricsPort > 0
	cfg.Metrics.Port = *metricsPort

	coord, err := coordinator.New(cfg)
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}
	if err := coord.Start(); err != nil {
		log.Fatalf("start: %v", err)
	}
	defer coord.Stop()

	type buffer struct {
		data []byte
	}
	buffers, err := coordinator.RegisterTrackedPool(coord, "buffers", "buffer", pool.Config[*buffer]{
		Factory: func() *buffer { return &buffer{data: make([]byte, 4096)} },
		MaxSize: 256,
	})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}

	// Preload half the fast tier for a realistic starting hit rate.
	for i := 0; i < *fastCap/2; i++ {
		k := "k:" + strconv.Itoa(i)
		if err := coord.Put(k, "v"+strconv.Itoa(i)); err != nil {
			log.Fatalf("preload: %v", err)
		}
	}

	readPctVal := *readPct
	taskPctVal := *taskPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var reads, writes, hits, tasks, rejected, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, *zipfV, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if _, ok := coord.Get(keyByZipf()); ok {
						atomic.AddUint64(&hits, 1)
					}
					continue
				}

				if int(localR.Int31n(100)) < taskPctVal {
					// A slice of the writes goes through the scheduler
					// as background work touching the buffer pool.
					key := keyByZipf()
					_, err := coord.Submit(ctx, types.ClassBackground, 0, time.Second,
						func(taskCtx context.Context) (interface{}, error) {
							buf := buffers.Acquire()
							defer buffers.Release(buf)
							copy(buf.data, key)
							return nil, coord.Put(key, "v"+strconv.Itoa(localR.Int()))
						})
					if err != nil {
						atomic.AddUint64(&rejected, 1)
					} else {
						atomic.AddUint64(&tasks, 1)
					}
					continue
				}

				atomic.AddUint64(&writes, 1)
				_ = coord.Put(keyByZipf(), "v"+strconv.Itoa(localR.Int()))
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	snapshot := coord.Snapshot()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	hitsN := atomic.LoadUint64(&hits)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("policy=%s fast=%d medium=%d slow=%d workers=%d keys=%d dur=%v seed=%d\n",
		*policy, *fastCap, *mediumCap, *slowCap, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  tasks=%d  rejected=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, atomic.LoadUint64(&writes),
		atomic.LoadUint64(&tasks), atomic.LoadUint64(&rejected))
	fmt.Printf("hits=%d  hit-rate=%.2f%%  pressure=%s (ratio %.2f)\n",
		hitsN, hitRate, snapshot.PressureLevel, snapshot.UsageRatio)
	for _, tier := range []string{"fast", "medium", "slow"} {
		stats := snapshot.Tiers[tier]
		fmt.Printf("tier %-6s entries=%d/%d  hit-rate=%.2f%%  evictions=%d\n",
			tier, stats.Entries, stats.Capacity, stats.HitRate*100, stats.Evictions)
	}
	poolStats := snapshot.Pools["buffers"]
	fmt.Printf("pool buffers available=%d in-use=%d created=%d reused=%d\n",
		poolStats.Available, poolStats.InUse, poolStats.Created, poolStats.Reused)
	fmt.Printf("heap=%s sys=%s deadlocks=%d leaks=%d\n",
		utils.FormatBytes(int64(mem.HeapAlloc)), utils.FormatBytes(int64(mem.Sys)),
		snapshot.Deadlocks, snapshot.Leaks)
}
