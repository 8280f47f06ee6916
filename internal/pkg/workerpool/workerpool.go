package workerpool

import (
	"sync"

	"github.com/twmb/murmur3"

	logger "github.com/threadvault/threadvault/middleware/log"
)

// Pool is a fixed-size worker pool with one queue per worker. Submit
// spreads jobs round-robin; SubmitKey pins all jobs sharing a key to the
// same worker, so jobs for one key execute in submission order.
type Pool struct {
	queues  []chan func()
	workers int
	next    uint32
	mu      sync.Mutex
	wg      sync.WaitGroup
	quit    chan struct{}
	log     *logger.Logger
}

func New(workers, queueSize int, log *logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	queues := make([]chan func(), workers)
	for i := range queues {
		queues[i] = make(chan func(), queueSize)
	}
	return &Pool{
		queues:  queues,
		workers: workers,
		quit:    make(chan struct{}),
		log:     log,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

func (p *Pool) run(workerID int) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.queues[workerID]:
			p.invoke(workerID, job)
		case <-p.quit:
			// Drain what is already queued before exiting.
			for {
				select {
				case job := <-p.queues[workerID]:
					p.invoke(workerID, job)
				default:
					return
				}
			}
		}
	}
}

// invoke runs a job behind a recover so a panicking job cannot take the
// worker down with it.
func (p *Pool) invoke(workerID int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Sugar().Errorf("worker %d recovered from panic: %v", workerID, r)
		}
	}()
	job()
}

// Submit queues a job on the next worker round-robin. Blocks when the
// chosen queue is full; after Stop the job is dropped.
func (p *Pool) Submit(job func()) {
	p.mu.Lock()
	idx := int(p.next) % p.workers
	p.next++
	p.mu.Unlock()
	p.enqueue(idx, job)
}

// SubmitKey queues a job on the worker owning the key's shard. Jobs with
// the same key never run concurrently or out of order.
func (p *Pool) SubmitKey(key string, job func()) {
	idx := int(murmur3.StringSum32(key) % uint32(p.workers))
	p.enqueue(idx, job)
}

// enqueue hands the job to the shard's queue. A stopped pool has no
// workers left to run it, so the job is dropped rather than stranding
// the submitter on a full queue.
func (p *Pool) enqueue(idx int, job func()) {
	select {
	case p.queues[idx] <- job:
	case <-p.quit:
		p.log.Sugar().Warnf("pool stopped, dropping job for worker %d", idx)
	}
}

// Stop signals the workers and waits for queued jobs to drain.
func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}
