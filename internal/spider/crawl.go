package spider

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/metrics"
)

// crawlLoop drains the crawl queue until ctx is canceled.
func (p *Pipeline) crawlLoop(ctx context.Context, logger *zap.Logger) error {
	for {
		if err := p.crawlOne(ctx, logger); err != nil {
			return err
		}
		p.wait(ctx, logger)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// crawlOne processes a single crawl target. The dequeue is acknowledged on
// every path, including panics.
func (p *Pipeline) crawlOne(ctx context.Context, logger *zap.Logger) error {
	loc, err := p.crawlQueue.Dequeue(ctx)
	if err != nil {
		return err
	}
	defer p.crawlQueue.Done()

	if !p.tracker.StartCrawl(loc) {
		logger.Debug("already crawled", zap.String("url", loc))
		return nil
	}
	// A location whose fetch or discovery blew up still counts as crawled.
	defer p.tracker.FinishCrawl(loc)
	logger.Info("crawling", zap.String("url", loc))

	links := p.discover(ctx, logger, loc)

	p.admitCrawl(logger, links.InScope)
	p.admitParse(logger, links.Targets)

	if p.parseQueue.Pending() > 0 && p.gate.Open() {
		p.metrics.ObserveGateOpened()
		logger.Info("parsing enabled", zap.String("url", loc))
	}
	return nil
}

// discover fetches loc and extracts its links. Transport faults and non-200
// responses yield no links.
func (p *Pipeline) discover(ctx context.Context, logger *zap.Logger, loc string) Links {
	resp, err := p.fetcher.Fetch(ctx, loc)
	if err != nil {
		p.metrics.ObservePage(loc, 0, 0)
		logger.Error("fetch failed", zap.String("url", loc), zap.Error(err))
		return Links{}
	}
	p.metrics.ObservePage(loc, resp.StatusCode, len(resp.Body))
	if !resp.OK() {
		logger.Error("bad response", zap.String("url", loc), zap.Int("status_code", resp.StatusCode))
		return Links{}
	}
	links, err := p.discoverer.Discover(resp.Body)
	if err != nil {
		logger.Error("link discovery failed", zap.String("url", loc), zap.Error(err))
		return Links{}
	}
	return links
}

func (p *Pipeline) admitCrawl(logger *zap.Logger, locs []string) {
	for _, loc := range locs {
		if p.crawlQueue.Closed() || !p.crawlQueue.Enqueue(loc) {
			p.metrics.ObserveRejection(metrics.QueueCrawl)
			logger.Warn("maximum crawl length has been reached", zap.Int("max_crawl", p.crawlQueue.Capacity()))
			return
		}
	}
}

func (p *Pipeline) admitParse(logger *zap.Logger, locs []string) {
	for _, loc := range locs {
		if p.parseQueue.Closed() {
			p.metrics.ObserveRejection(metrics.QueueParse)
			logger.Warn("maximum parse length has been reached", zap.Int("max_parse", p.parseQueue.Capacity()))
			return
		}
		target := loc
		if p.tracker.ClaimParse(target, func() bool { return p.parseQueue.Enqueue(target) }) {
			logger.Info("captured", zap.String("url", target))
		}
	}
}

// wait applies the inter-request delay.
func (p *Pipeline) wait(ctx context.Context, logger *zap.Logger) {
	if p.cfg.Delay <= 0 {
		return
	}
	logger.Debug("waiting", zap.Duration("delay", p.cfg.Delay))
	p.pauser.Pause(ctx, p.cfg.Delay)
}
