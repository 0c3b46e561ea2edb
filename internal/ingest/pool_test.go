package ingest

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinel/internal/models"
)

type countingIngester struct {
	count atomic.Uint64
}

func (c *countingIngester) Ingest(_ *models.LogEvent) {
	c.count.Add(1)
}

type panickyIngester struct {
	count atomic.Uint64
}

func (p *panickyIngester) Ingest(e *models.LogEvent) {
	if e.ID == "boom" {
		panic("evaluation blew up")
	}
	p.count.Add(1)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPoolProcessesAllEvents(t *testing.T) {
	ing := &countingIngester{}
	events := make(chan *models.LogEvent, 100)
	pool := NewPool(PoolConfig{Ingester: ing, Events: events, Workers: 4})
	pool.Start()

	for i := 0; i < 50; i++ {
		events <- &models.LogEvent{ID: "e", Level: models.LevelError}
	}

	waitFor(t, func() bool { return ing.count.Load() == 50 })
	pool.Stop()

	if got := pool.Stats().Processed; got != 50 {
		t.Errorf("processed: got %d, want 50", got)
	}
}

func TestPoolDrainsQueueOnStop(t *testing.T) {
	ing := &countingIngester{}
	events := make(chan *models.LogEvent, 100)
	pool := NewPool(PoolConfig{Ingester: ing, Events: events, Workers: 1})

	for i := 0; i < 20; i++ {
		events <- &models.LogEvent{ID: "e", Level: models.LevelError}
	}

	pool.Start()
	pool.Stop()

	if got := ing.count.Load(); got != 20 {
		t.Errorf("events processed on stop: got %d, want 20", got)
	}
}

func TestPoolSurvivesIngesterPanic(t *testing.T) {
	// A panicking worker takes itself out, the rest keep draining.
	ing := &panickyIngester{}
	events := make(chan *models.LogEvent, 100)
	pool := NewPool(PoolConfig{Ingester: ing, Events: events, Workers: 4})
	pool.Start()

	events <- &models.LogEvent{ID: "boom"}
	for i := 0; i < 30; i++ {
		events <- &models.LogEvent{ID: "e", Level: models.LevelError}
	}

	waitFor(t, func() bool { return ing.count.Load() == 30 })
	pool.Stop()
}

func TestPoolConcurrentProducers(t *testing.T) {
	ing := &countingIngester{}
	events := make(chan *models.LogEvent, 1000)
	pool := NewPool(PoolConfig{Ingester: ing, Events: events, Workers: 8})
	pool.Start()

	var wg sync.WaitGroup
	for p := 0; p < 10; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				events <- &models.LogEvent{ID: "e", Level: models.LevelError}
			}
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return ing.count.Load() == 1000 })
	pool.Stop()
}
