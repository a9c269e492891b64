package ingestion

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/errcode"
	"MarginLedger/internal/event"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/oracle"
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Processor is the core surface the ingestion side drives.
type Processor interface {
	Process(evt event.Event) (*core.Result, error)
	UpdatePriceFeed(acc oracle.Account) bool
}

// Inbound is a decoded event on its way to the core.
type Inbound struct {
	Event    event.Event
	Received time.Time
}

// Pipeline decodes raw messages and queues them for the applier. A message
// is acked only after its event is queued, so a full queue holds NATS back
// instead of losing messages.
type Pipeline struct {
	rawChan <-chan RawEvent
	out     chan<- Inbound
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPipeline(rawChan <-chan RawEvent, out chan<- Inbound, metrics *observability.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{rawChan: rawChan, out: out, metrics: metrics, logger: logger}
}

func (p *Pipeline) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.rawChan:
			if !ok {
				return nil
			}
			label := subjectLabel(raw.Subject)

			evt, err := ParseRawEvent(raw)
			if err != nil {
				// redelivery cannot fix a malformed message
				p.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping inbound message")
				p.count(label, "invalid")
				raw.AckFunc()
				continue
			}

			select {
			case p.out <- Inbound{Event: evt, Received: raw.Timestamp}:
				p.count(label, "queued")
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return ctx.Err()
			}
		}
	}
}

func (p *Pipeline) count(label, result string) {
	if p.metrics != nil {
		p.metrics.IngestMessages.WithLabelValues(label, result).Inc()
	}
}

// subjectLabel keeps metric cardinality bounded: oracle subjects carry an
// address per feed.
func subjectLabel(subject string) string {
	if strings.HasPrefix(subject, OracleSubjectPrefix) {
		return "oracle"
	}
	return subject
}

// Applier feeds queued events to the core one at a time. Oracle images the
// core keeps are also written to the feed store for restarts and siblings.
type Applier struct {
	core    Processor
	in      <-chan Inbound
	feeds   oracle.FeedStore
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewApplier(core Processor, in <-chan Inbound, feeds oracle.FeedStore, metrics *observability.Metrics, logger zerolog.Logger) *Applier {
	return &Applier{core: core, in: in, feeds: feeds, metrics: metrics, logger: logger}
}

func (a *Applier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-a.in:
			if !ok {
				return nil
			}
			a.apply(ctx, msg)
		}
	}
}

func (a *Applier) apply(ctx context.Context, msg Inbound) {
	op := msg.Event.EventType().String()
	defer func() {
		if a.metrics != nil && !msg.Received.IsZero() {
			a.metrics.IngestToApply.WithLabelValues(op).Observe(time.Since(msg.Received).Seconds())
		}
	}()

	if feed, ok := msg.Event.(*event.PriceFeedUpdate); ok {
		if !a.core.UpdatePriceFeed(feed.Account) || a.feeds == nil {
			return
		}
		putCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := a.feeds.Put(putCtx, feed.Account); err != nil {
			a.logger.Warn().Err(err).Str("feed", feed.Account.Key().String()).Msg("feed store write failed")
			if a.metrics != nil {
				a.metrics.OracleFeedStoreErrors.Inc()
			}
		}
		return
	}

	if _, err := a.core.Process(msg.Event); err != nil {
		// the core has already logged and counted coded rejections
		if errcode.CodeOf(err) == 0 {
			a.logger.Error().Err(err).Str("op", op).Msg("operation failed without an error code")
		}
	}
}
