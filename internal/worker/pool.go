// Package worker warms the analysis and stem caches in the background.
package worker

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

// Prefetcher is the part of the orchestrator the pool drives.
type Prefetcher interface {
	AnalyzeTrack(ctx context.Context, trackRef string, options map[string]string) (domain.AudioFeatures, error)
	SeparateStems(ctx context.Context, trackRef string, quality domain.StemQuality) (domain.SeparatedStems, error)
}

// Job asks for a track to be analysed and, optionally, separated.
type Job struct {
	TrackRef string             `json:"trackRef"`
	Stems    bool               `json:"stems"`
	Quality  domain.StemQuality `json:"quality,omitempty"`
}

// Stats counts job outcomes since the pool started.
type Stats struct {
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Pool runs prefetch jobs on a fixed set of workers.
type Pool struct {
	svc     Prefetcher
	jobs    chan Job
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a pool with the given queue size. Each job is bounded by timeout.
func NewPool(svc Prefetcher, queueSize int, timeout time.Duration) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Pool{svc: svc, jobs: make(chan Job, queueSize), timeout: timeout}
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(job)
			}
		}()
	}
}

// Stop closes the queue and waits for queued jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit queues a job without blocking and reports whether it was accepted.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || strings.TrimSpace(job.TrackRef) == "" {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.jobs <- job:
		return true
	default:
		p.dropped.Add(1)
		log.Printf("WARN worker: queue full, dropping prefetch of %s", job.TrackRef)
		return false
	}
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.jobs),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	f, err := p.svc.AnalyzeTrack(ctx, job.TrackRef, nil)
	if err != nil {
		p.failed.Add(1)
		log.Printf("WARN worker: analyse %s: %v", job.TrackRef, err)
		return
	}
	if job.Stems {
		if _, err := p.svc.SeparateStems(ctx, job.TrackRef, domain.ParseStemQuality(string(job.Quality))); err != nil {
			p.failed.Add(1)
			log.Printf("WARN worker: separate %s: %v", job.TrackRef, err)
			return
		}
	}
	p.processed.Add(1)
	log.Printf("INFO worker: prefetched %s (bpm=%.1f key=%s stems=%t)", job.TrackRef, f.BPM, f.Key, job.Stems)
}
