package commands

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittolock/internal/cli/output"
	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/lock"
	"github.com/marmos91/dittolock/pkg/lock/loopback"
	"github.com/marmos91/dittolock/pkg/lock/remote"
)

var (
	benchClients   int
	benchThreads   int
	benchLocks     int
	benchDuration  time.Duration
	benchReadRatio float64
	benchHold      time.Duration
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run an in-process lock contention benchmark",
	Long: `Run several lock managers against an embedded lock server and measure
lock throughput and latency under contention.

Every acquisition is checked for mutual exclusion; the command fails if a
writer ever overlapped another holder.

Examples:
  # Default run: 3 clients, 4 threads each, 8 locks, 5 seconds
  dittolock bench

  # Mostly readers on few locks
  dittolock bench --locks 2 --read-ratio 0.9`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchClients, "clients", 3, "Number of lock managers")
	benchCmd.Flags().IntVar(&benchThreads, "threads", 4, "Threads per lock manager")
	benchCmd.Flags().IntVar(&benchLocks, "locks", 8, "Number of distinct locks")
	benchCmd.Flags().DurationVar(&benchDuration, "duration", 5*time.Second, "Benchmark duration")
	benchCmd.Flags().Float64Var(&benchReadRatio, "read-ratio", 0.5, "Fraction of read acquisitions (0..1)")
	benchCmd.Flags().DurationVar(&benchHold, "hold", 0, "Time each lock is held")
}

// guard tracks holders of one lock to detect exclusion violations.
type guard struct {
	readers atomic.Int32
	writers atomic.Int32
}

func (g *guard) enter(level lock.LockLevel) bool {
	if level == lock.LevelRead {
		g.readers.Add(1)
		return g.writers.Load() == 0
	}
	w := g.writers.Add(1)
	return w == 1 && g.readers.Load() == 0
}

func (g *guard) exit(level lock.LockLevel) {
	if level == lock.LevelRead {
		g.readers.Add(-1)
		return
	}
	g.writers.Add(-1)
}

type benchResult struct {
	ops        int
	violations int
	latencies  []time.Duration
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchClients < 1 || benchThreads < 1 || benchLocks < 1 {
		return fmt.Errorf("clients, threads and locks must be positive")
	}
	if benchReadRatio < 0 || benchReadRatio > 1 {
		return fmt.Errorf("read-ratio must be between 0 and 1")
	}

	logger.SetLevel("WARN")

	server := loopback.NewServer(loopback.Config{})
	defer server.Close()

	managers := make([]*lock.Manager, 0, benchClients)
	for i := range benchClients {
		cfg := lock.DefaultConfig()
		cfg.ClientID = lock.ClientID(fmt.Sprintf("bench-%d", i))
		m, err := server.NewClient(cfg, remote.DefaultConfig(), nil)
		if err != nil {
			return err
		}
		defer m.Shutdown()
		managers = append(managers, m)
	}

	guards := make([]*guard, benchLocks)
	for i := range guards {
		guards[i] = &guard{}
	}

	results := make([]benchResult, benchClients*benchThreads)
	deadline := time.Now().Add(benchDuration)
	ctx, cancel := context.WithDeadline(context.Background(), deadline.Add(benchDuration))
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for ci, m := range managers {
		for ti := range benchThreads {
			res := &results[ci*benchThreads+ti]
			g.Go(func() error {
				thread := lock.NewThreadID()
				for time.Now().Before(deadline) {
					n := rand.IntN(benchLocks)
					id := lock.LockID(fmt.Sprintf("bench-lock-%d", n))
					level := lock.LevelWrite
					if rand.Float64() < benchReadRatio {
						level = lock.LevelRead
					}

					start := time.Now()
					if err := m.LockInterruptibly(gctx, id, thread, level); err != nil {
						return err
					}
					res.latencies = append(res.latencies, time.Since(start))

					if !guards[n].enter(level) {
						res.violations++
					}
					if benchHold > 0 {
						time.Sleep(benchHold)
					}
					guards[n].exit(level)

					if err := m.Unlock(gctx, id, thread, level); err != nil {
						return err
					}
					res.ops++
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("benchmark failed: %w", err)
	}

	var total benchResult
	for _, r := range results {
		total.ops += r.ops
		total.violations += r.violations
		total.latencies = append(total.latencies, r.latencies...)
	}
	slices.Sort(total.latencies)

	if err := output.SimpleTable(os.Stdout, [][2]string{
		{"Clients", fmt.Sprintf("%d x %d threads", benchClients, benchThreads)},
		{"Locks", fmt.Sprintf("%d", benchLocks)},
		{"Operations", fmt.Sprintf("%d", total.ops)},
		{"Throughput", fmt.Sprintf("%.0f ops/s", float64(total.ops)/benchDuration.Seconds())},
		{"Latency p50", percentile(total.latencies, 0.50).String()},
		{"Latency p99", percentile(total.latencies, 0.99).String()},
		{"Violations", fmt.Sprintf("%d", total.violations)},
	}); err != nil {
		return err
	}

	if total.violations > 0 {
		return fmt.Errorf("%d mutual exclusion violations", total.violations)
	}
	return nil
}

// percentile returns the q-th quantile of sorted durations.
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * q)
	return sorted[i]
}
