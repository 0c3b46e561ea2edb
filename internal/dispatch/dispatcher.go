package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"sentinel/internal/history"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

// Config tunes per-channel delivery retries.
type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	SendTimeout  time.Duration
}

// Dispatcher delivers firings to their bound channels. Channel
// deliveries fan out concurrently with isolated failure domains: one
// channel timing out never blocks or fails the others. Retries for the
// same channel+firing run on a single goroutine, so duplicates can
// never arrive out of order.
type Dispatcher struct {
	channels map[models.ChannelRef]Channel
	store    IdempotencyStore
	sink     history.Sink
	cfg      Config

	mu          sync.Mutex
	base        context.Context
	ruleCtxs    map[string]context.Context
	ruleCancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New creates a dispatcher over the given channels.
func New(channels []Channel, store IdempotencyStore, sink history.Sink, cfg Config) *Dispatcher {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	byName := make(map[models.ChannelRef]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}

	return &Dispatcher{
		channels:    byName,
		store:       store,
		sink:        sink,
		cfg:         cfg,
		base:        context.Background(),
		ruleCtxs:    make(map[string]context.Context),
		ruleCancels: make(map[string]context.CancelFunc),
	}
}

// Run consumes firings until the context is cancelled, dispatching each
// on its own goroutine so a slow delivery never delays the next firing.
func (d *Dispatcher) Run(ctx context.Context, firings <-chan *models.AlertFiring) {
	log := logger.WithComponent("dispatcher")
	log.Info().Int("channels", len(d.channels)).Msg("dispatcher started")

	d.mu.Lock()
	d.base = ctx
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("dispatcher stopping")
			d.wg.Wait()
			return
		case firing, ok := <-firings:
			if !ok {
				d.wg.Wait()
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.Dispatch(d.ruleContext(firing.RuleID), firing)
			}()
		}
	}
}

// Dispatch delivers one firing to every channel bound to its rule,
// concurrently, and blocks until every channel has settled.
func (d *Dispatcher) Dispatch(ctx context.Context, firing *models.AlertFiring) {
	var wg sync.WaitGroup
	for _, ref := range firing.Channels {
		ch, ok := d.channels[ref]
		if !ok {
			d.record(firing, ref, 0, models.AttemptFailed, "channel not configured")
			metrics.DispatchAttemptsTotal.WithLabelValues(string(ref), "failed").Inc()
			lg := logger.WithComponent("dispatcher")
			lg.Error().
				Str("firing_id", firing.ID).
				Str("channel", string(ref)).
				Msg("unknown channel reference")
			continue
		}

		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			d.deliver(ctx, firing, ch)
		}(ch)
	}
	wg.Wait()
}

// CancelRule stops in-flight retries for a rule's firings. Already
// sent notifications are not recalled.
func (d *Dispatcher) CancelRule(ruleID string) {
	d.mu.Lock()
	cancel, ok := d.ruleCancels[ruleID]
	delete(d.ruleCancels, ruleID)
	delete(d.ruleCtxs, ruleID)
	d.mu.Unlock()

	if ok {
		cancel()
		lg := logger.WithComponent("dispatcher")
		lg.Info().
			Str("rule_id", ruleID).
			Msg("in-flight deliveries cancelled")
	}
}

// deliver runs the retry loop for one channel+firing pair.
func (d *Dispatcher) deliver(ctx context.Context, firing *models.AlertFiring, ch Channel) {
	log := logger.WithComponent("dispatcher").With().
		Str("firing_id", firing.ID).
		Str("rule_id", firing.RuleID).
		Str("channel", string(ch.Name())).
		Logger()

	// Consult the audit trail before sending: a replayed firing must
	// not notify the same channel twice.
	seen, err := d.store.Seen(ctx, firing.ID, ch.Name())
	if err != nil {
		log.Warn().Err(err).Msg("idempotency check failed, proceeding with send")
	} else if seen {
		d.record(firing, ch.Name(), 0, models.AttemptSkipped, "")
		metrics.DispatchAttemptsTotal.WithLabelValues(string(ch.Name()), "skipped").Inc()
		log.Debug().Msg("delivery skipped, already sent")
		return
	}

	backoff := d.cfg.RetryBackoff
	start := time.Now()

	for attempt := 1; attempt <= d.cfg.MaxRetries+1; attempt++ {
		if attempt > 1 {
			metrics.DispatchRetriesTotal.WithLabelValues(string(ch.Name())).Inc()
			select {
			case <-time.After(withJitter(backoff)):
				backoff = min(backoff*2, d.cfg.MaxBackoff)
			case <-ctx.Done():
				d.record(firing, ch.Name(), attempt, models.AttemptCancelled, ctx.Err().Error())
				metrics.DispatchAttemptsTotal.WithLabelValues(string(ch.Name()), "cancelled").Inc()
				log.Info().Msg("delivery cancelled")
				return
			}
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := ch.Send(sendCtx, firing)
		cancel()

		if err == nil {
			d.record(firing, ch.Name(), attempt, models.AttemptDelivered, "")
			metrics.DispatchAttemptsTotal.WithLabelValues(string(ch.Name()), "delivered").Inc()
			metrics.DispatchDuration.WithLabelValues(string(ch.Name())).Observe(time.Since(start).Seconds())
			if markErr := d.store.MarkDelivered(ctx, firing.ID, ch.Name()); markErr != nil {
				log.Warn().Err(markErr).Msg("failed to mark delivery in idempotency store")
			}
			log.Info().Int("attempt", attempt).Msg("notification delivered")
			return
		}

		if ctx.Err() != nil {
			d.record(firing, ch.Name(), attempt, models.AttemptCancelled, err.Error())
			metrics.DispatchAttemptsTotal.WithLabelValues(string(ch.Name()), "cancelled").Inc()
			log.Info().Msg("delivery cancelled")
			return
		}

		if IsPermanent(err) {
			d.record(firing, ch.Name(), attempt, models.AttemptFailed, err.Error())
			metrics.DispatchAttemptsTotal.WithLabelValues(string(ch.Name()), "failed").Inc()
			log.Error().Err(err).Int("attempt", attempt).Msg("permanent delivery failure")
			return
		}

		status := models.AttemptFailed
		if attempt == d.cfg.MaxRetries+1 {
			status = models.AttemptExhausted
		}
		d.record(firing, ch.Name(), attempt, status, err.Error())
		metrics.DispatchAttemptsTotal.WithLabelValues(string(ch.Name()), string(status)).Inc()
		log.Warn().Err(err).Int("attempt", attempt).Msg("delivery attempt failed")
	}

	// Exhausted retries: recorded above, the firing itself stands.
	log.Error().Int("attempts", d.cfg.MaxRetries+1).Msg("delivery failed after all retries")
}

// record appends one entry to the delivery audit trail. Recording uses
// its own context so a cancelled rule still leaves a trace.
func (d *Dispatcher) record(firing *models.AlertFiring, channel models.ChannelRef, attemptNo int, status models.AttemptStatus, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attempt := &models.DeliveryAttempt{
		FiringID:  firing.ID,
		RuleID:    firing.RuleID,
		Channel:   channel,
		AttemptNo: attemptNo,
		Status:    status,
		Error:     errMsg,
		At:        time.Now(),
	}
	if err := d.sink.RecordAttempt(ctx, attempt); err != nil {
		lg := logger.WithComponent("dispatcher")
		lg.Error().
			Err(err).
			Str("firing_id", firing.ID).
			Str("channel", string(channel)).
			Msg("failed to record delivery attempt")
	}
}

// ruleContext returns a cancellable context shared by all deliveries
// for one rule, creating it on first use. Disabling the rule cancels
// it; re-enabling starts a fresh one.
func (d *Dispatcher) ruleContext(ruleID string) context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ctx, ok := d.ruleCtxs[ruleID]; ok {
		return ctx
	}
	ctx, cancel := context.WithCancel(d.base)
	d.ruleCtxs[ruleID] = ctx
	d.ruleCancels[ruleID] = cancel
	return ctx
}

// withJitter randomizes a backoff to half-to-full duration, spreading
// retries from concurrent failures.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
