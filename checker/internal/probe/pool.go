package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool defaults applied by DefaultPoolConfig.
const (
	DefaultWorkers = 10
	DefaultPacing  = 100 * time.Millisecond
)

// PoolConfig configures a Pool. Start from DefaultPoolConfig: a zero Pacing
// disables pacing.
type PoolConfig struct {
	// Workers bounds concurrent probes. Default: 10.
	Workers int `yaml:"workers"`
	// Pacing is slept by a worker after each probe before it takes the next
	// item. Default: 100ms. Negative values fall back to the default.
	Pacing time.Duration `yaml:"pacing"`
}

// DefaultPoolConfig returns a PoolConfig with every default set.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: DefaultWorkers, Pacing: DefaultPacing}
}

func (c *PoolConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Pacing < 0 {
		c.Pacing = DefaultPacing
	}
}

// ProgressFunc is called after every completed probe.
type ProgressFunc func(done, total int)

// Pool runs a Measurer over many resources with bounded concurrency.
type Pool struct {
	measurer Measurer
	config   PoolConfig
	logger   *slog.Logger
}

// NewPool creates a Pool. A nil logger uses slog.Default().
func NewPool(m Measurer, cfg PoolConfig, logger *slog.Logger) *Pool {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{measurer: m, config: cfg, logger: logger}
}

// ProbeAll probes every target (resource id -> url) and returns one Result
// per scheduled target, in completion order. Individual failures are
// reported inside the results, never as an error.
//
// When ctx is cancelled no new probes are scheduled; probes already running
// finish under their own request timeout. The results gathered so far are
// returned together with the context error.
func (p *Pool) ProbeAll(ctx context.Context, targets map[string]string, progress ProgressFunc) ([]Result, error) {
	ids := make([]string, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	results := make([]Result, 0, total)
	var mu sync.Mutex

	// In-flight probes are detached from cancellation.
	probeCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.config.Workers)

	start := time.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		url := targets[id]
		g.Go(func() (err error) {
			// g.Go may have blocked on a free slot past cancellation.
			if ctx.Err() != nil {
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("probe: worker panic on %s: %v", id, r)
				}
			}()

			res := p.measurer.Probe(probeCtx, id, url)

			mu.Lock()
			results = append(results, res)
			done := len(results)
			mu.Unlock()

			if progress != nil {
				progress(done, total)
			}
			if p.config.Pacing > 0 {
				_ = sleepCtx(ctx, p.config.Pacing)
			}
			return nil
		})
	}

	werr := g.Wait()

	mu.Lock()
	defer mu.Unlock()
	p.logger.Info("probe: batch done", "scheduled", total, "completed", len(results), "duration", time.Since(start))

	if werr != nil {
		return results, werr
	}
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("probe: batch interrupted: %w", err)
	}
	return results, nil
}
