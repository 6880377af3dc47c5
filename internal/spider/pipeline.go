package spider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/clock/system"
	"github.com/JakeFAU/sitespider/internal/metrics"
	"github.com/JakeFAU/sitespider/internal/queue/memory"
)

// Worker roles, used in logs and metrics.
const (
	roleCrawl = "crawl"
	roleParse = "parse"
)

// Pipeline coordinates crawl and parse workers for a single run.
type Pipeline struct {
	cfg        Config
	fetcher    Fetcher
	discoverer Discoverer
	extractor  Extractor
	sink       Sink
	clock      Clock
	metrics    *metrics.Metrics
	logger     *zap.Logger
	pauser     pauser

	crawlQueue *memory.Queue[string]
	parseQueue *memory.Queue[string]
	tracker    *Tracker
	gate       *Gate
	results    *results

	started   atomic.Bool
	closeOnce sync.Once
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithSink sets where records go after a successful run.
func WithSink(sink Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithClock overrides the wall clock.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func withPauser(ps pauser) Option {
	return func(p *Pipeline) { p.pauser = ps }
}

// NewPipeline validates cfg and wires the collaborators.
func NewPipeline(
	cfg Config,
	fetcher Fetcher,
	discoverer Discoverer,
	extractor Extractor,
	opts ...Option,
) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil || discoverer == nil || extractor == nil {
		return nil, fmt.Errorf("%w: fetcher, discoverer and extractor are required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()

	crawlQueue, err := memory.NewQueue[string](cfg.MaxCrawl)
	if err != nil {
		return nil, fmt.Errorf("%w: crawl queue: %w", ErrInvalidConfig, err)
	}
	parseQueue, err := memory.NewQueue[string](cfg.MaxParse)
	if err != nil {
		return nil, fmt.Errorf("%w: parse queue: %w", ErrInvalidConfig, err)
	}

	p := &Pipeline{
		cfg:        cfg,
		fetcher:    fetcher,
		discoverer: discoverer,
		extractor:  extractor,
		clock:      system.New(),
		logger:     zap.NewNop(),
		pauser:     timerPauser{},
		crawlQueue: crawlQueue,
		parseQueue: parseQueue,
		tracker:    NewTracker(),
		gate:       &Gate{},
		results:    &results{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.RunID != "" {
		p.logger = p.logger.With(zap.String("run_id", cfg.RunID))
	}
	return p, nil
}

// Run executes the pipeline to completion. It returns an error wrapping
// ErrDeadlineExceeded when the crawl stage does not drain within the timeout,
// ErrInvariantViolated when the post-run bookkeeping is inconsistent, and the
// sink error when records cannot be written. The fetcher is closed before Run
// returns in every case. Workers are given ShutdownGrace to stop only after a
// successful drain; failed runs return as soon as the workers are canceled.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	defer p.closeFetcher()

	start := p.clock.Now()
	p.logger.Info("pipeline starting",
		zap.String("base_url", p.cfg.BaseURL),
		zap.String("start_url", p.cfg.StartURL),
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("timeout", p.cfg.Timeout),
		zap.Int("max_crawl", p.cfg.MaxCrawl),
		zap.Int("max_parse", p.cfg.MaxParse),
	)
	p.crawlQueue.Enqueue(p.cfg.StartURL)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	var crawlers, parsers sync.WaitGroup
	for i := range p.cfg.Concurrency {
		p.spawn(workerCtx, &crawlers, roleCrawl, i, p.crawlLoop)
		p.spawn(workerCtx, &parsers, roleParse, i, p.parseLoop)
	}
	parsersDone := make(chan struct{})
	go func() {
		parsers.Wait()
		close(parsersDone)
	}()

	if err := p.awaitCrawl(ctx); err != nil {
		return Result{}, p.abort(cancelWorkers, start, err)
	}
	p.logger.Info("crawl queue drained", zap.Int("crawled", p.tracker.CrawledCount()))

	if err := p.awaitParse(ctx, parsersDone); err != nil {
		return Result{}, p.abort(cancelWorkers, start, err)
	}

	cancelWorkers()
	p.awaitWorkers(&crawlers, &parsers)
	p.closeFetcher()

	records, failed := p.results.snapshot()
	res := Result{
		RunID:    p.cfg.RunID,
		Records:  records,
		Crawled:  p.tracker.CrawledCount(),
		Accepted: p.tracker.ParsingCount(),
		Parsed:   len(records),
		Failed:   failed,
		Elapsed:  p.clock.Now().Sub(start),
	}
	p.logger.Info("pipeline finished",
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("crawled", res.Crawled),
		zap.Int("parsed", res.Parsed),
		zap.Int("failed", res.Failed),
	)

	if err := p.verify(); err != nil {
		p.metrics.ObserveRun("failed", res.Elapsed)
		return res, err
	}

	if p.sink != nil {
		name := BaseName(p.cfg.BaseURL)
		p.logger.Info("writing records", zap.String("name", name), zap.Int("records", len(records)))
		uri, err := p.sink.Write(ctx, name, records)
		if err != nil {
			p.metrics.ObserveRun("failed", res.Elapsed)
			return res, fmt.Errorf("write records: %w", err)
		}
		res.OutputURI = uri
		p.logger.Info("records stored", zap.String("uri", uri))
	}
	p.metrics.ObserveRun("succeeded", res.Elapsed)
	return res, nil
}

// abort ends a failed run without waiting for workers. A worker stuck in a
// transport call that ignores cancellation must not hold up the error; the
// fetcher is closed so such calls can fail and the workers exit on their own.
func (p *Pipeline) abort(cancelWorkers context.CancelFunc, start time.Time, err error) error {
	cancelWorkers()
	p.closeFetcher()
	p.metrics.ObserveRun("failed", p.clock.Now().Sub(start))
	return err
}

// spawn starts one worker loop. A failing worker is logged and stops on its
// own; it never cancels its siblings.
func (p *Pipeline) spawn(
	ctx context.Context,
	wg *sync.WaitGroup,
	role string,
	index int,
	loop func(context.Context, *zap.Logger) error,
) {
	logger := p.logger.Named(role).With(zap.Int("index", index))
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.metrics.IncActiveWorkers(role)
		defer p.metrics.DecActiveWorkers(role)

		err := runGuarded(ctx, logger, loop)
		switch {
		case err == nil:
			logger.Debug("worker finished")
		case errors.Is(err, context.Canceled):
			logger.Debug("worker canceled")
		default:
			logger.Error("worker has finished with error", zap.Error(err))
		}
	}()
}

func runGuarded(ctx context.Context, logger *zap.Logger, loop func(context.Context, *zap.Logger) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()
	return loop(ctx, logger)
}

func (p *Pipeline) awaitCrawl(ctx context.Context) error {
	crawlCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	err := p.crawlQueue.Wait(crawlCtx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("pipeline canceled: %w", ctxErr)
	}
	p.logger.Error("crawl stage timed out",
		zap.Duration("timeout", p.cfg.Timeout),
		zap.Int("started", p.tracker.CrawlingCount()),
		zap.Int("pending", p.crawlQueue.Pending()),
		zap.Int("unfinished", p.crawlQueue.Unfinished()),
	)
	return fmt.Errorf("%w after %s", ErrDeadlineExceeded, p.cfg.Timeout)
}

// awaitParse waits for the parse queue to drain. It gives up when every parse
// worker has exited while work is still unfinished, since nothing would ever
// acknowledge it.
func (p *Pipeline) awaitParse(ctx context.Context, parsersDone <-chan struct{}) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	drained := make(chan error, 1)
	go func() {
		drained <- p.parseQueue.Wait(waitCtx)
	}()

	select {
	case err := <-drained:
		if err != nil {
			return fmt.Errorf("pipeline canceled: %w", err)
		}
		return nil
	case <-parsersDone:
		if remaining := p.parseQueue.Unfinished(); remaining > 0 {
			p.logger.Error("parse workers exited with work outstanding", zap.Int("unfinished", remaining))
			return fmt.Errorf("%w: %d locations never parsed", ErrParseAbandoned, remaining)
		}
		return nil
	}
}

func (p *Pipeline) awaitWorkers(groups ...*sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		for _, wg := range groups {
			wg.Wait()
		}
		close(done)
	}()
	timer := time.NewTimer(p.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.logger.Warn("workers did not stop within shutdown grace", zap.Duration("grace", p.cfg.ShutdownGrace))
	}
}

func (p *Pipeline) closeFetcher() {
	p.closeOnce.Do(p.fetcher.Close)
}

func (p *Pipeline) verify() error {
	if unfinished := p.tracker.Unfinished(); len(unfinished) > 0 {
		return fmt.Errorf("%w: crawling and crawled locations do not match: %v", ErrInvariantViolated, unfinished)
	}
	accepted := p.tracker.ParsingCount()
	if handled := p.results.handled(); accepted != handled {
		return fmt.Errorf("%w: %d locations accepted for parsing but %d handled",
			ErrInvariantViolated, accepted, handled)
	}
	return nil
}
