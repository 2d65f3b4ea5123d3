package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hazyhaar/ckanwatch/checker/internal/catalog"
	"github.com/hazyhaar/ckanwatch/checker/internal/diff"
	"github.com/hazyhaar/ckanwatch/checker/internal/probe"
	"github.com/hazyhaar/ckanwatch/checker/internal/scheduler"
	"github.com/hazyhaar/ckanwatch/checker/internal/snapshot"
	"github.com/hazyhaar/ckanwatch/checker/internal/store"
	"github.com/hazyhaar/ckanwatch/notify"
)

// CatalogSource lists the catalog. *catalog.Client is the CKAN implementation.
type CatalogSource interface {
	FetchPages(ctx context.Context) ([]Page, error)
}

// Service runs check cycles and serves their results.
type Service struct {
	config      *Config
	store       *store.Store
	source      CatalogSource
	builder     *snapshot.Builder
	differ      diff.Differ
	notifier    notify.Notifier
	broadcaster *Broadcaster
	metrics     *Metrics
	registry    *prometheus.Registry
	logger      *slog.Logger
	newID       func() string
	now         func() time.Time

	running atomic.Bool
	bg      context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithCatalogSource replaces the CKAN client.
func WithCatalogSource(src CatalogSource) ServiceOption {
	return func(s *Service) { s.source = src }
}

// WithNotifier replaces the channels built from configuration.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithIDGenerator replaces the UUIDv7 run id generator.
func WithIDGenerator(gen func() string) ServiceOption {
	return func(s *Service) { s.newID = gen }
}

// Open opens the database named in cfg and creates a Service on it.
func Open(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	st, err := store.Open(cfg.Store.Path, store.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	svc, err := newService(cfg, st, logger, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return svc, nil
}

func newService(cfg *Config, st *store.Store, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	bg, stop := context.WithCancel(context.Background())
	svc := &Service{
		config:  cfg,
		store:   st,
		differ:  diff.Differ{DatasetURLBase: cfg.Catalog.DatasetURLBase},
		metrics: NewMetrics(),
		logger:  logger,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		now:     time.Now,
		bg:      bg,
		stop:    stop,
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.source == nil {
		svc.source = catalog.NewClient(cfg.Catalog.ClientConfig, nil, catalog.WithLogger(logger))
	}
	if svc.builder == nil {
		prober := probe.New(cfg.Probe.Config, logger)
		svc.builder = snapshot.NewBuilder(probe.NewPool(prober, cfg.Probe.PoolConfig, logger), logger)
	}
	if svc.notifier == nil {
		n, err := buildNotifier(cfg.Notify, logger)
		if err != nil {
			stop()
			return nil, err
		}
		svc.notifier = n
	}
	svc.broadcaster = NewBroadcaster(st, svc.notifier, logger, svc.metrics)

	svc.registry = prometheus.NewRegistry()
	svc.registry.MustRegister(
		svc.metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return svc, nil
}

func buildNotifier(cfg NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	var channels []notify.Notifier
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegram(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}
	for _, url := range cfg.Webhooks {
		channels = append(channels, notify.NewWebhook(url, notify.WithWebhookLogger(logger)))
	}
	if cfg.Stdout || len(channels) == 0 {
		if len(channels) == 0 {
			logger.Warn("checker: no notification channel configured, writing to stdout")
		}
		channels = append(channels, notify.NewStdout(nil))
	}
	return notify.NewRouter(logger, channels...), nil
}

// Close cancels background runs, waits for them to record their outcome and
// releases the database and channels.
func (s *Service) Close() error {
	s.stop()
	s.wg.Wait()
	return errors.Join(s.notifier.Close(), s.store.Close())
}

// Registry returns the prometheus registry holding the service metrics.
func (s *Service) Registry() *prometheus.Registry { return s.registry }

// Run runs cycles on the configured schedule until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	scheduler.New(func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	}, s.config.Schedule, s.logger).Run(ctx)
}

// StartRun starts a cycle in the background. It fails with ErrRunInProgress
// when a cycle is already running.
func (s *Service) StartRun() (string, error) {
	if !s.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}
	id := s.newID()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if _, err := s.runLocked(s.bg, id); err != nil {
			s.logger.Error("checker: background run failed", "run_id", id, "error", err)
		}
	}()
	return id, nil
}

// RunOnce performs one full cycle: list, measure, diff, persist, broadcast.
// Cycles never overlap; a concurrent call fails with ErrRunInProgress.
func (s *Service) RunOnce(ctx context.Context) (Run, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Run{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.runLocked(ctx, s.newID())
}

func (s *Service) runLocked(ctx context.Context, id string) (Run, error) {
	start := s.now()
	run := Run{ID: id, StartedAt: start.UnixMilli(), Status: RunStatusRunning}
	if err := s.store.CreateRun(ctx, run.ID, run.StartedAt); err != nil {
		return run, fmt.Errorf("checker: create run: %w", err)
	}
	s.logger.Info("checker: run started", "run_id", run.ID)

	err := s.cycle(ctx, &run)

	finished := s.now()
	run.FinishedAt = finished.UnixMilli()
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Status = RunStatusOK
	}

	// Bookkeeping survives cancellation of the cycle itself.
	fctx := context.WithoutCancel(ctx)
	if ferr := s.store.FinishRun(fctx, run); ferr != nil {
		s.logger.Error("checker: finish run", "run_id", run.ID, "error", ferr)
	}
	s.metrics.observeRun(run.Status, finished.Sub(start).Seconds(), finished.Unix())
	s.report(fctx, run, err)

	if err != nil {
		s.logger.Error("checker: run failed", "run_id", run.ID, "error", err)
		return run, err
	}
	s.logger.Info("checker: run done", "run_id", run.ID,
		"datasets_created", run.DatasetsCreated,
		"distributions_created", run.DistributionsCreated,
		"datapoint_growth", run.DatapointGrowth,
		"probe_errors", run.ProbeErrors,
		"duration", finished.Sub(start))
	return run, nil
}

func (s *Service) cycle(ctx context.Context, run *Run) error {
	prev, err := s.store.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("checker: no previous snapshot, events start next run")
		prev = catalog.NewSnapshot()
	} else if err != nil {
		return fmt.Errorf("checker: load snapshot: %w", err)
	}
	missing, err := s.store.LoadMissing(ctx)
	if err != nil {
		return fmt.Errorf("checker: load missing: %w", err)
	}

	pages, err := s.source.FetchPages(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}

	subscribed, err := s.store.SubscribedDatasetIDs(ctx)
	if err != nil {
		s.logger.Warn("checker: subscribed datasets lookup failed, probing nothing", "error", err)
		subscribed = nil
	}

	curr, failed, err := s.builder.Build(ctx, pages, subscribed)
	if err != nil {
		return fmt.Errorf("checker: build snapshot: %w", err)
	}
	if curr.IsEmpty() {
		return fmt.Errorf("%w: listing returned no datasets", ErrCatalogUnavailable)
	}

	res := s.differ.Compute(prev, curr, missing)

	run.Datasets = curr.TotalDatasets
	run.Distributions = curr.TotalDistributions
	run.DatasetsCreated = len(res.DatasetsCreated)
	run.DistributionsCreated = len(res.DistributionsCreated)
	run.DatapointGrowth = len(res.Growth)
	run.ProbeErrors = len(failed)

	if err := s.store.SaveErrorReport(ctx, run.ID, failed); err != nil {
		return fmt.Errorf("checker: save error report: %w", err)
	}
	if err := s.store.SaveState(ctx, curr, res.Missing); err != nil {
		return fmt.Errorf("checker: save state: %w", err)
	}

	s.metrics.observeSnapshot(curr.TotalDatasets, curr.TotalDistributions, len(res.Missing))
	s.metrics.observeProbes(countMeasured(curr), len(failed))
	s.metrics.observeEvents(res)

	if err := WriteDumps(s.config.Dump.Dir, curr); err != nil {
		s.logger.Warn("checker: write dumps", "dir", s.config.Dump.Dir, "error", err)
	}

	stats := s.broadcaster.Broadcast(ctx, res)
	run.NotifyFailures = stats.Failed
	return nil
}

func countMeasured(snap Snapshot) int {
	n := 0
	for _, ds := range snap.Datasets {
		for _, d := range ds.Distributions {
			if d.Size != nil {
				n++
			}
		}
	}
	return n
}

// report sends the run summary to the operator chats.
func (s *Service) report(ctx context.Context, run Run, runErr error) {
	if len(s.config.Report.ChatIDs) == 0 {
		return
	}
	var text string
	if runErr != nil {
		text = "Error \\- Reporte ckanwatch\n" + notify.Text("Ocurrió el siguiente error: "+runErr.Error())
	} else {
		text = "Reporte ckanwatch\n" + notify.Text(fmt.Sprintf(
			"ckanwatch parseó y mandó notificaciones correctamente (run %s). "+
				"Datasets nuevos: %d. Recursos nuevos: %d. Recursos con nuevos datos: %d. "+
				"Distribuciones que no se pudieron parsear: %d. Envíos fallidos: %d.",
			run.ID, run.DatasetsCreated, run.DistributionsCreated, run.DatapointGrowth,
			run.ProbeErrors, run.NotifyFailures))
	}
	if err := s.notifier.Notify(ctx, s.config.Report.ChatIDs, text); err != nil {
		s.logger.Warn("checker: operator report failed", "run_id", run.ID, "error", err)
	}
}

// LastRun returns the most recent run.
func (s *Service) LastRun(ctx context.Context) (Run, error) {
	r, err := s.store.LatestRun(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return Run{}, ErrNoSnapshot
	}
	return r, err
}

// GetRun returns one run.
func (s *Service) GetRun(ctx context.Context, id string) (Run, error) {
	r, err := s.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	return r, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// ProbeErrors returns the failed probes of a run; an empty runID means the
// latest run.
func (s *Service) ProbeErrors(ctx context.Context, runID string) ([]ProbeResult, error) {
	var (
		r   Run
		err error
	)
	if runID == "" {
		r, err = s.LastRun(ctx)
	} else {
		r, err = s.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, err
	}
	return s.store.ErrorReport(ctx, r.ID)
}

// Missing lists the datasets currently considered vanished.
func (s *Service) Missing(ctx context.Context) ([]MissingEntry, error) {
	return s.store.ListMissing(ctx)
}
