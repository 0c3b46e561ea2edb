package ingest

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

// Ingester receives validated events from the pool.
type Ingester interface {
	Ingest(event *models.LogEvent)
}

// Pool drains the event queue with a fixed set of workers feeding the
// aggregator. The queue decouples producers from evaluation so a burst
// never stalls the HTTP or Kafka ingress paths.
type Pool struct {
	ingester Ingester
	events   chan *models.LogEvent
	workers  int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	processed atomic.Uint64
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Ingester Ingester
	Events   chan *models.LogEvent
	Workers  int
}

// NewPool creates a new ingest worker pool.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ingester: cfg.Ingester,
		events:   cfg.Events,
		workers:  cfg.Workers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins draining events.
func (p *Pool) Start() {
	log := logger.WithComponent("ingest_pool")
	log.Info().Int("workers", p.workers).Msg("starting ingest pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains remaining events and stops all workers.
func (p *Pool) Stop() {
	log := logger.WithComponent("ingest_pool")
	log.Info().Msg("stopping ingest pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("ingest pool stopped")
}

// worker processes events from the queue.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("ingest_worker").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("ingest_worker").Inc()
		}
	}()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	for {
		select {
		case <-p.ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event, ok := <-p.events:
					if !ok {
						return
					}
					p.process(event)
				default:
					return
				}
			}

		case event, ok := <-p.events:
			if !ok {
				return
			}
			p.process(event)
		}
	}
}

func (p *Pool) process(event *models.LogEvent) {
	p.ingester.Ingest(event)
	p.processed.Add(1)
	metrics.IngestQueueSize.Set(float64(len(p.events)))
}

// Stats returns pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{Processed: p.processed.Load()}
}

// PoolStats holds ingest pool metrics.
type PoolStats struct {
	Processed uint64
}
