package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrUnsettled stops a poller whose source cannot redeliver when a failed
// message could not be dead-lettered. Acknowledging later messages would
// commit past it, so the poller returns and the group resumes from the last
// committed position on restart.
var ErrUnsettled = errors.New("failed message could not be dead-lettered")

// BatchHandler processes a batch and returns the ids of messages that failed.
type BatchHandler func(ctx context.Context, msgs []Message) []string

type PollerConfig struct {
	// MaxDeliveries moves a failing message to the dead-letter destination
	// once it has been delivered this many times. Zero leaves failing
	// messages on a redelivering source indefinitely.
	MaxDeliveries  int64
	PollInterval   time.Duration
	ProcessTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration
	// Drain stops the poller once the source is empty or a batch makes no
	// progress.
	Drain bool
}

type PollerStats struct {
	Received     int
	Acked        int
	Failed       int
	DeadLettered int
}

// Poller pulls batches from a Source, hands them to a BatchHandler and
// settles every message according to the handler's verdict.
type Poller struct {
	source  Source
	handler BatchHandler
	cfg     PollerConfig
	logger  *log.Logger
	stats   PollerStats
}

func NewPoller(source Source, handler BatchHandler, cfg PollerConfig, logger *log.Logger) *Poller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 30 * time.Second
	}
	return &Poller{source: source, handler: handler, cfg: cfg, logger: logger}
}

func (p *Poller) Stats() PollerStats { return p.stats }

// Run polls until ctx is cancelled or, in drain mode, until there is nothing
// left to do. It returns ErrUnsettled when a message on a non-redelivering
// source could be neither processed nor dead-lettered.
func (p *Poller) Run(ctx context.Context) error {
	attempt := 0
	for ctx.Err() == nil {
		msgs, err := p.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			attempt++
			delay := exponentialBackoff(attempt, p.cfg.RetryInitial, p.cfg.RetryMax)
			p.logger.WithError(err).WithFields(log.Fields{"attempt": attempt, "delay": delay.String()}).Warn("receive failed")
			sleepCtx(ctx, delay)
			continue
		}
		attempt = 0
		if len(msgs) == 0 {
			if p.cfg.Drain {
				break
			}
			sleepCtx(ctx, p.cfg.PollInterval)
			continue
		}
		acked, err := p.handleBatch(ctx, msgs)
		if err != nil {
			return err
		}
		if acked == 0 && p.cfg.Drain {
			break
		}
	}
	return nil
}

func (p *Poller) handleBatch(ctx context.Context, msgs []Message) (int, error) {
	p.stats.Received += len(msgs)

	hctx := ctx
	if p.cfg.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, p.cfg.ProcessTimeout)
		defer cancel()
	}
	failed := make(map[string]bool)
	for _, id := range p.handler(hctx, msgs) {
		failed[id] = true
	}

	acked := 0
	for _, msg := range msgs {
		entry := p.logger.WithFields(log.Fields{"messageId": msg.ID, "deliveries": msg.DeliveryCount})
		if !failed[msg.ID] {
			if err := p.source.Ack(ctx, msg); err != nil {
				entry.WithError(err).Error("failed to acknowledge message")
				continue
			}
			acked++
			p.stats.Acked++
			continue
		}
		p.stats.Failed++
		if p.source.Redelivers() && (p.cfg.MaxDeliveries <= 0 || msg.DeliveryCount < p.cfg.MaxDeliveries) {
			entry.Warn("message failed, leaving it for redelivery")
			continue
		}
		if err := p.source.DeadLetter(ctx, msg); err != nil {
			entry.WithError(err).Error("failed to dead-letter message")
			if !p.source.Redelivers() {
				return acked, fmt.Errorf("message %s: %w: %w", msg.ID, ErrUnsettled, err)
			}
			continue
		}
		p.stats.DeadLettered++
		entry.Warn("message moved to dead-letter destination")
	}
	return acked, nil
}
