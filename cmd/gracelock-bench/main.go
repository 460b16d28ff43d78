package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mirkobrombin/go-gracelock/v1/config"
	"github.com/mirkobrombin/go-gracelock/v1/core"
	"github.com/mirkobrombin/go-gracelock/v1/identity"
	"github.com/mirkobrombin/go-gracelock/v1/presets"
	"github.com/mirkobrombin/go-gracelock/v1/record"
)

var (
	concurrency = flag.Int("c", 16, "Concurrent sessions")
	edits       = flag.Int("n", 2000, "Committed edits per target")
	rows        = flag.Int("rows", 64, "Rows shared by the sessions")
	target      = flag.String("target", "all", "Targets: memory, ristretto, redis")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis address")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"memory", "ristretto", "redis"}
	}

	fmt.Printf("| %-10s | %-10s | %-12s | %-12s |\n", "Target", "Edits/sec", "Avg Latency", "P99 Latency")
	fmt.Println("|:---|:---|:---|:---|")

	for _, t := range targets {
		if err := runBenchmark(strings.TrimSpace(t)); err != nil {
			log.Printf("%s: %v", t, err)
			fmt.Printf("| %-10s | %-10s | %-12s | %-12s |\n", t, "ERROR", "-", "-")
		}
	}
}

func runBenchmark(name string) error {
	cfg := config.Default()
	cfg.Log.Level = "error"
	switch name {
	case "memory":
	case "ristretto":
		cfg.Cache.Backend = "ristretto"
	case "redis":
		cfg.Redis.Addr = *redisAddr
		cfg.Bus.Backend = "redis"
	default:
		return fmt.Errorf("unknown target")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stack, err := presets.FromConfig(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer stack.Close()

	seed := make([]record.Record, *rows)
	for i := range seed {
		seed[i] = record.Record{Values: map[record.Field]any{record.Product: "Bench"}}
	}
	seeded, err := stack.Store.Insert(ctx, seed)
	if err != nil {
		return err
	}

	editor := identity.Static{User: "bench@example.com", Level: identity.TierEditor}
	sessions := make([]*core.Tracker, *concurrency)
	for i := range sessions {
		tr, err := stack.Tracker(editor)
		if err != nil {
			return err
		}
		if err := tr.Mount(ctx); err != nil {
			return err
		}
		defer tr.Unmount()
		sessions[i] = tr
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies []time.Duration
	)
	chunk := *edits / *concurrency

	start := time.Now()
	for i, tr := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, chunk)
			for j := 0; j < chunk; j++ {
				id := seeded[(i*chunk+j)%len(seeded)].ID
				begin := time.Now()
				if err := commitEdit(ctx, tr, id, j); err != nil {
					continue
				}
				local = append(local, time.Since(begin))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if len(latencies) == 0 {
		return fmt.Errorf("no edit committed")
	}
	slices.Sort(latencies)
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	avg := total / time.Duration(len(latencies))
	p99 := latencies[len(latencies)*99/100]
	throughput := float64(len(latencies)) / elapsed.Seconds()

	fmt.Printf("| %-10s | %-10.0f | %-12s | %-12s |\n", name, throughput, avg, p99)
	return nil
}

// commitEdit walks one strain edit through the three confirmations.
func commitEdit(ctx context.Context, tr *core.Tracker, id string, n int) error {
	if _, err := tr.BeginEdit(ctx, id, record.Strain, fmt.Sprintf("strain-%d", n)); err != nil {
		return err
	}
	for i := 0; i < 3; i++ {
		if _, err := tr.Affirm(ctx); err != nil {
			return err
		}
	}
	return nil
}
