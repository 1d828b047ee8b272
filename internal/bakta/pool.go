package bakta

import (
	"context"
	"sync"

	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// Pool runs Bakta submit/poll loops on a fixed number of worker
// goroutines, mirroring internal/amr.Pool's shape but sized larger and
// never clamped to NumCPU since the work is I/O-bound (spec §5: "I/O
// bound work (Bakta polling, downloads) runs on a separate, larger
// bounded pool").
type Pool struct {
	jobs    chan string
	pending sync.WaitGroup
	orch    *Orchestrator
	log     *log.ComponentLogger
}

// NewPool starts size workers (size<=0 defaults to 8) each pulling job
// ids off an internal queue and running them through orch.Run.
func NewPool(ctx context.Context, orch *Orchestrator, size int) *Pool {
	if size <= 0 {
		size = 8
	}
	p := &Pool{
		jobs: make(chan string, 256),
		orch: orch,
		log:  log.Component("bakta.pool"),
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
			p.orch.Run(ctx, jobID)
			p.pending.Done()
		}
	}
}

// Submit enqueues a job id for its submit/poll lifecycle. Blocks if the
// internal queue is full, applying backpressure to the submitting API
// handler.
func (p *Pool) Submit(jobID string) {
	p.pending.Add(1)
	p.jobs <- jobID
}

// Wait blocks until every submitted job has finished running.
func (p *Pool) Wait() {
	p.pending.Wait()
}
