package amr

import (
	"context"
	"runtime"
	"sync"

	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// Pool runs AMR jobs on a fixed number of worker goroutines, mirroring
// the teacher's archiveWorker.go channel+waitgroup shape but
// generalized from one fixed worker to a configurable pool sized by
// min(configured, NumCPU) (spec §5 "CPU-bound work...runs on a bounded
// worker pool sized by min(configured, CPU cores)").
type Pool struct {
	jobs     chan string
	pending  sync.WaitGroup
	executor *Executor
	log      *log.ComponentLogger
}

// NewPool starts size workers (size<=0 or size>NumCPU clamps to
// runtime.NumCPU()) pulling job ids off an internal queue.
func NewPool(ctx context.Context, executor *Executor, size int) *Pool {
	if size <= 0 || size > runtime.NumCPU() {
		size = runtime.NumCPU()
	}
	p := &Pool{
		jobs:     make(chan string, 128),
		executor: executor,
		log:      log.Component("amr.pool"),
	}
	for i := 0; i < size; i++ {
		go p.worker(ctx)
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID, ok := <-p.jobs:
			if !ok {
				return
			}
			p.executor.Run(ctx, jobID)
			p.pending.Done()
		}
	}
}

// Submit enqueues a job id for execution. Blocks if the internal queue
// is full, applying backpressure to the submitting API handler.
func (p *Pool) Submit(jobID string) {
	p.pending.Add(1)
	p.jobs <- jobID
}

// Wait blocks until every submitted job has finished running.
func (p *Pool) Wait() {
	p.pending.Wait()
}
