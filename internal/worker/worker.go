package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/call-engine/internal/database"
	"github.com/snarg/call-engine/internal/pipeline"
)

// Job is one call waiting to be processed.
type Job struct {
	CallID     string // assigned at intake; empty means the pipeline assigns one
	Input      pipeline.Input
	Source     string // "upload" or "mqtt"
	AudioKey   string // archive key, empty when nothing was stored
	AudioStore string
}

// QueueStats reports the current state of the processing queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// ResultStore persists finished pipeline results.
type ResultStore interface {
	InsertResult(ctx context.Context, res *pipeline.Result, meta database.CallMeta) error
}

// Options configures the processing worker pool.
type Options struct {
	Store        ResultStore
	Sequencer    *pipeline.Sequencer
	Workers      int
	QueueSize    int
	StoreTimeout time.Duration
	Log          zerolog.Logger
}

// Pool runs pipeline jobs on a fixed set of workers.
type Pool struct {
	jobs      chan Job
	store     ResultStore
	sequencer *pipeline.Sequencer
	opts      Options
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a processing worker pool.
func NewPool(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:      make(chan Job, opts.QueueSize),
		store:     opts.Store,
		sequencer: opts.Sequencer,
		opts:      opts,
		log:       opts.Log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Info().Int("workers", p.opts.Workers).Int("queue_size", p.opts.QueueSize).Msg("worker pool started")
}

// Stop signals workers to drain the queue and waits for completion.
// Jobs enqueued after Stop begins are refused.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("worker pool stopped")
}

// Enqueue adds a job to the queue. Returns false if the queue is full
// or the pool has been stopped.
func (p *Pool) Enqueue(j Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (p *Pool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(p.jobs),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.opts.Workers }

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("worker", id).Logger()

	for job := range p.jobs {
		if err := p.processJob(log, job); err != nil {
			p.failed.Add(1)
			log.Warn().Err(err).Str("source", job.Source).Msg("job failed")
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *Pool) processJob(log zerolog.Logger, job Job) error {
	res := p.sequencer.RunWithID(p.ctx, job.CallID, job.Input)

	meta := database.CallMeta{
		Source:     job.Source,
		InputKind:  string(job.Input.Kind),
		Filename:   job.Input.Filename,
		AudioKey:   job.AudioKey,
		AudioStore: job.AudioStore,
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.StoreTimeout)
	defer cancel()
	if err := p.store.InsertResult(ctx, &res, meta); err != nil {
		return err
	}

	log.Debug().
		Str("call_id", res.CallID).
		Str("status", string(res.Status)).
		Float64("elapsed_sec", res.ElapsedSec).
		Msg("job complete")
	return nil
}
