package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel/internal/config"
	"sentinel/internal/dispatch"
	"sentinel/internal/engine"
	"sentinel/internal/handlers"
	"sentinel/internal/history"
	"sentinel/internal/ingest"
	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/middleware"
	"sentinel/internal/models"
	"sentinel/internal/registry"
)

// Service is the high-level coordinator: ingress feeds the aggregator,
// the arbiter decides firings, the dispatcher notifies channels, and
// everything lands in the history sink.
type Service struct {
	cfg        *config.Config
	registry   *registry.Registry
	aggregator *engine.Aggregator
	pool       *ingest.Pool
	dispatcher *dispatch.Dispatcher
	consumer   *ingest.Consumer
	sink       history.Sink
	idem       dispatch.IdempotencyStore
	httpServer *http.Server

	events   chan *models.LogEvent
	firings  chan *models.AlertFiring
	dispatch chan *models.AlertFiring

	wg sync.WaitGroup
}

// New constructs a Service with the given config.
func New(cfg *config.Config) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		registry: registry.New(),
		events:   make(chan *models.LogEvent, cfg.Engine.QueueSize),
		firings:  make(chan *models.AlertFiring, cfg.Engine.FiringQueueSize),
		dispatch: make(chan *models.AlertFiring, cfg.Engine.FiringQueueSize),
	}

	if err := s.seedRules(); err != nil {
		return nil, err
	}
	if err := s.initSink(); err != nil {
		return nil, err
	}
	s.initIdempotency()
	s.initDispatcher()
	s.initEngine()

	if cfg.Kafka.Enabled {
		consumer, err := ingest.NewConsumer(ingest.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.EventsTopic,
			GroupID: cfg.Kafka.GroupID,
			Events:  s.events,
		})
		if err != nil {
			return nil, fmt.Errorf("init consumer: %w", err)
		}
		s.consumer = consumer
	}

	s.initHTTPServer()
	return s, nil
}

// Run starts background goroutines and blocks until context cancelled.
func (s *Service) Run(ctx context.Context) error {
	log := logger.WithComponent("service")
	log.Info().Msg("service starting")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.pool.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.aggregator.Run(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forwardFirings(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatcher.Run(runCtx, s.dispatch)
	}()

	if s.consumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.consumer.Run(runCtx); err != nil {
				log.Error().Err(err).Msg("kafka consumer exited")
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.HTTP.Addr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(runCtx)
	}()

	metrics.IngestQueueCapacity.Set(float64(cap(s.events)))

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	return s.shutdown(cancel)
}

func (s *Service) seedRules() error {
	rules, err := s.cfg.SeedRules()
	if err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	for _, rule := range rules {
		if err := s.registry.Create(rule); err != nil {
			return fmt.Errorf("seed rule %q: %w", rule.ID, err)
		}
	}
	return nil
}

func (s *Service) initSink() error {
	if !s.cfg.Kafka.Enabled {
		s.sink = history.NewMemorySink()
		return nil
	}
	sink, err := history.NewKafkaSink(history.KafkaSinkConfig{
		Brokers:      s.cfg.Kafka.Brokers,
		Topic:        s.cfg.Kafka.HistoryTopic,
		MaxRetries:   s.cfg.Kafka.MaxRetries,
		RetryBackoff: config.ParseDuration(s.cfg.Kafka.RetryBackoff, 100*time.Millisecond),
	})
	if err != nil {
		return fmt.Errorf("init history sink: %w", err)
	}
	s.sink = sink
	return nil
}

func (s *Service) initIdempotency() {
	if s.cfg.Redis.Enabled {
		ttl := config.ParseDuration(s.cfg.Redis.TTL, 24*time.Hour)
		s.idem = dispatch.NewRedisIdempotencyStore(s.cfg.Redis.Addr, ttl)
		return
	}
	s.idem = dispatch.NewMemoryIdempotencyStore()
}

func (s *Service) initDispatcher() {
	channels := make([]dispatch.Channel, 0, len(s.cfg.Channels))
	sendTimeout := config.ParseDuration(s.cfg.Dispatch.SendTimeout, 10*time.Second)
	for _, cc := range s.cfg.Channels {
		switch cc.Type {
		case "webhook":
			channels = append(channels, dispatch.NewWebhookChannel(dispatch.WebhookConfig{
				Name:    cc.Name,
				URL:     cc.URL,
				Timeout: sendTimeout,
			}))
		case "email":
			channels = append(channels, dispatch.NewEmailChannel(dispatch.EmailConfig{
				Name:     cc.Name,
				SMTPHost: cc.SMTPHost,
				SMTPPort: cc.SMTPPort,
				Username: cc.Username,
				Password: cc.Password,
				From:     cc.From,
				To:       cc.To,
			}))
		default:
			lg := logger.WithComponent("service")
			lg.Warn().
				Str("channel", cc.Name).
				Str("type", cc.Type).
				Msg("unknown channel type, skipping")
		}
	}

	s.dispatcher = dispatch.New(channels, s.idem, s.sink, dispatch.Config{
		MaxRetries:   s.cfg.Dispatch.MaxRetries,
		RetryBackoff: config.ParseDuration(s.cfg.Dispatch.RetryBackoff, 500*time.Millisecond),
		MaxBackoff:   config.ParseDuration(s.cfg.Dispatch.MaxBackoff, 10*time.Second),
		SendTimeout:  sendTimeout,
	})

	// A disabled or deleted rule stops future dispatch attempts for its
	// in-flight retries.
	s.registry.Subscribe(func(change registry.Change) {
		if change.Type == registry.ChangeDisabled || change.Type == registry.ChangeDeleted {
			s.dispatcher.CancelRule(change.RuleID)
		}
	})
}

func (s *Service) initEngine() {
	arbiter := engine.NewArbiter()
	s.aggregator = engine.NewAggregator(s.registry, arbiter, engine.Config{
		Buckets:       s.cfg.Engine.Buckets,
		SweepInterval: config.ParseDuration(s.cfg.Engine.SweepInterval, 0),
	}, s.emitFiring)

	s.pool = ingest.NewPool(ingest.PoolConfig{
		Ingester: s.aggregator,
		Events:   s.events,
		Workers:  s.cfg.Engine.Workers,
	})
}

// emitFiring hands a firing from the engine to the forwarding stage.
// Non-blocking: the ingest path never waits on history or dispatch.
func (s *Service) emitFiring(firing *models.AlertFiring) {
	select {
	case s.firings <- firing:
	default:
		metrics.FiringQueueDropped.Inc()
		lg := logger.WithComponent("service")
		lg.Error().
			Str("firing_id", firing.ID).
			Str("rule_id", firing.RuleID).
			Msg("firing queue full, firing dropped")
	}
}

// forwardFirings records each firing in history, then passes it to the
// dispatcher. The firing is durable before any notification goes out,
// so an operator can always distinguish "alert fired, delivery failed"
// from "alert never fired".
func (s *Service) forwardFirings(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case firing := <-s.firings:
			recordCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := s.sink.RecordFiring(recordCtx, firing); err != nil {
				lg := logger.WithComponent("service")
				lg.Error().
					Err(err).
					Str("firing_id", firing.ID).
					Msg("failed to record firing")
			}
			cancel()

			select {
			case s.dispatch <- firing:
			case <-ctx.Done():
				return
			}
		}
	}
}

// initHTTPServer initializes the HTTP server with handlers
func (s *Service) initHTTPServer() {
	mux := http.NewServeMux()

	ingestHandler := handlers.NewIngestHandler(handlers.IngestConfig{
		Events:      s.events,
		MaxBodySize: s.cfg.HTTP.MaxBodySize,
	})
	mux.Handle("/ingest", middleware.Chain(
		ingestHandler,
		middleware.Recovery,
		middleware.Logging,
	))

	rulesHandler := handlers.NewRulesHandler(s.registry)
	mux.Handle("/rules", middleware.Chain(rulesHandler, middleware.Recovery, middleware.Logging))
	mux.Handle("/rules/", middleware.Chain(rulesHandler, middleware.Recovery, middleware.Logging))

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// shutdown performs graceful shutdown
func (s *Service) shutdown(cancel context.CancelFunc) error {
	log := logger.WithComponent("service")
	log.Info().Msg("initiating graceful shutdown")

	// 1. Stop accepting new HTTP requests
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the Kafka consumer so no new events arrive
	if s.consumer != nil {
		log.Info().Msg("closing kafka consumer")
		if err := s.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("consumer close error")
		}
	}

	// 3. Drain the ingest pool (with timeout)
	done := make(chan struct{})
	go func() {
		s.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("ingest pool stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("ingest pool shutdown timeout - forcing exit")
	}

	// 4. Stop engine, forwarder and dispatcher
	cancel()
	s.wg.Wait()

	// 5. Close external resources
	if err := s.sink.Close(); err != nil {
		log.Error().Err(err).Msg("history sink close error")
	}
	if err := s.idem.Close(); err != nil {
		log.Error().Err(err).Msg("idempotency store close error")
	}

	log.Info().Msg("service stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (s *Service) reportStats(ctx context.Context) {
	log := logger.WithComponent("service")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poolStats := s.pool.Stats()
			metrics.IngestQueueSize.Set(float64(len(s.events)))

			log.Info().
				Uint64("events_processed", poolStats.Processed).
				Int("rules", len(s.registry.List())).
				Int("event_queue", len(s.events)).
				Int("firing_queue", len(s.firings)).
				Msg("stats")
		}
	}
}

// healthHandler handles health check requests
func (s *Service) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// statsHandler returns current statistics
func (s *Service) statsHandler(w http.ResponseWriter, r *http.Request) {
	poolStats := s.pool.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"ingest": {
			"processed": %d
		},
		"rules": %d,
		"queues": {
			"events": %d,
			"events_capacity": %d,
			"firings": %d
		}
	}`,
		poolStats.Processed,
		len(s.registry.List()),
		len(s.events),
		cap(s.events),
		len(s.firings),
	)
}
