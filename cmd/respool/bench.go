package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-i2p/respool/lib/pool"
	"github.com/go-i2p/respool/lib/resources"
	"github.com/go-i2p/respool/lib/workers"
)

type benchOptions struct {
	Requests   int
	Workers    int
	QueueSize  int
	PoolSize   int
	BufferSize int
	Hold       time.Duration
}

// benchResult summarises one bench run.
type benchResult struct {
	Stats    pool.Stats
	Failed   int
	Elapsed  time.Duration
	MaxWait  time.Duration
	MeanWait time.Duration
}

func newBenchCmd(opts *globalOptions) *cobra.Command {
	var bo benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Exercise an in-process buffer pool under contention",
		Long: `Runs --requests acquire/release cycles against a buffer pool of at most
--pool-size entries from --workers goroutines and prints the pool counters.
Worker defaults come from the [workers] config section.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if bo.Workers == 0 {
				bo.Workers = cfg.Workers.Workers
			}
			if bo.QueueSize == 0 {
				bo.QueueSize = cfg.Workers.QueueSize
			}

			res, err := runBench(cmd.Context(), bo)
			if err != nil {
				return err
			}
			printBench(cmd.OutOrStdout(), bo, res)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&bo.Requests, "requests", 1000, "number of acquire/release cycles")
	fs.IntVar(&bo.Workers, "workers", 0, "concurrent workers (default from config)")
	fs.IntVar(&bo.PoolSize, "pool-size", 4, "maximum pool size")
	fs.IntVar(&bo.BufferSize, "buffer-size", 4096, "bytes per buffer")
	fs.DurationVar(&bo.Hold, "hold", 0, "time each worker holds a buffer")
	return cmd
}

// runBench drives a fresh buffer pool through a worker pool and returns
// the pool counters once every request has finished.
func runBench(ctx context.Context, bo benchOptions) (benchResult, error) {
	if bo.Requests < 1 {
		return benchResult{}, errors.New("requests must be at least 1")
	}

	pcfg := pool.DefaultConfig()
	pcfg.MinSize = 0
	pcfg.MaxSize = bo.PoolSize
	pcfg.ValidationInterval = 0

	p, err := resources.NewBufferPool("bench", bo.BufferSize, pcfg)
	if err != nil {
		return benchResult{}, err
	}
	if err := p.Start(ctx); err != nil {
		return benchResult{}, err
	}
	defer p.Stop(context.Background())

	wp, err := workers.New(workers.Config{Workers: bo.Workers, QueueSize: bo.QueueSize})
	if err != nil {
		return benchResult{}, err
	}
	if err := wp.Start(); err != nil {
		return benchResult{}, err
	}
	defer wp.Stop(context.Background())

	start := time.Now()
	futures := make([]*workers.Future[time.Duration], 0, bo.Requests)
	for i := range bo.Requests {
		f, err := workers.Submit(ctx, wp, func(ctx context.Context) (time.Duration, error) {
			return benchCycle(ctx, p, byte(i), bo.Hold)
		})
		if err != nil {
			return benchResult{}, fmt.Errorf("submitting request %d: %w", i, err)
		}
		futures = append(futures, f)
	}

	var res benchResult
	var total time.Duration
	for _, f := range futures {
		wait, err := f.Get(ctx)
		if err != nil {
			res.Failed++
			continue
		}
		total += wait
		res.MaxWait = max(res.MaxWait, wait)
	}
	res.Elapsed = time.Since(start)
	if ok := len(futures) - res.Failed; ok > 0 {
		res.MeanWait = total / time.Duration(ok)
	}
	res.Stats = p.Stats()
	return res, nil
}

// benchCycle acquires one buffer, touches it and releases it. It returns
// how long the acquire waited.
func benchCycle(ctx context.Context, p *pool.Pool[*resources.Buffer], fill byte, hold time.Duration) (time.Duration, error) {
	start := time.Now()
	r, err := p.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	wait := time.Since(start)

	for i := range r.Value.B {
		r.Value.B[i] = fill
	}
	if hold > 0 {
		time.Sleep(hold)
	}
	r.Value.Reset()
	p.Release(r)
	return wait, nil
}

func printBench(w io.Writer, bo benchOptions, res benchResult) {
	st := res.Stats
	fmt.Fprintf(w, "Requests:   %d (%d failed) in %s\n", bo.Requests, res.Failed, res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Workers:    %d\n", bo.Workers)
	fmt.Fprintf(w, "Pool:       max %d, %d created, %d destroyed\n", st.MaxSize, st.Created, st.Destroyed)
	fmt.Fprintf(w, "Acquired:   %d (%d timeouts)\n", st.Acquired, st.Timeouts)
	fmt.Fprintf(w, "Wait:       mean %s, max %s\n", res.MeanWait, res.MaxWait)
}
