package spider

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitespider/internal/metrics"
)

// parseLoop drains the parse queue once the gate is open. Until then it
// waits ParseRetries times and gives up if no work ever appears.
func (p *Pipeline) parseLoop(ctx context.Context, logger *zap.Logger) error {
	retries := p.cfg.ParseRetries
	for {
		switch {
		case p.gate.IsOpen():
			if err := p.parseOne(ctx, logger); err != nil {
				return err
			}
		case retries > 0:
			retries--
			p.pauser.Pause(ctx, p.cfg.ParseRetryInterval)
		default:
			logger.Info("no parse targets arrived, parser stopping", zap.Int("retries", p.cfg.ParseRetries))
			return nil
		}
		p.wait(ctx, logger)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// parseOne extracts one record. Extraction errors are logged and counted as
// handled so the completion accounting stays exact.
func (p *Pipeline) parseOne(ctx context.Context, logger *zap.Logger) error {
	loc, err := p.parseQueue.Dequeue(ctx)
	if err != nil {
		return err
	}
	defer p.parseQueue.Done()
	defer func() {
		if r := recover(); r != nil {
			p.results.fail()
			p.metrics.ObserveRecord(metrics.OutcomeFailed)
			panic(r)
		}
	}()

	logger.Info("parsing", zap.String("url", loc))
	rec, err := p.extractor.Extract(ctx, loc)
	if err == nil && rec == nil {
		err = ErrEmptyRecord
	}
	if err != nil {
		p.results.fail()
		p.metrics.ObserveRecord(metrics.OutcomeFailed)
		logger.Error("an error has occurred during parsing", zap.String("url", loc), zap.Error(err))
		return nil
	}
	p.results.add(rec)
	p.metrics.ObserveRecord(metrics.OutcomeParsed)
	return nil
}
