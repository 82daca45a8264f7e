package workerpool

import (
	"context"
	"log"
	"sync"
	"time"
)

type Job func(ctx context.Context)

type WorkerPool struct {
	queue chan Job
	wg    sync.WaitGroup
}

func New(ctx context.Context, workerCount int, queueSize int) *WorkerPool {
	pool := &WorkerPool{
		queue: make(chan Job, queueSize),
	}
	for range workerCount {
		go pool.worker(ctx)
	}
	return pool
}

func (p *WorkerPool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			job(ctx)
			p.wg.Done()
		}
	}
}

// Submit enqueues a job without blocking. A full queue drops the job with a
// log line; callers on the sync path must tolerate that. Accounting happens
// here, not in the worker, so Shutdown waits for queued jobs too.
func (p *WorkerPool) Submit(job Job) {
	p.wg.Add(1)
	select {
	case p.queue <- job:
	default:
		p.wg.Done()
		log.Println("worker pool queue full: job dropped")
	}
}

func (p *WorkerPool) Shutdown(ctx context.Context) {
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		log.Println("worker pool shutdown timed out")
	case <-done:
	}
}

// WithRetry wraps a job with a bounded retry loop. The delay grows linearly
// with the attempt number; after the last attempt the failure is logged and
// the job is abandoned.
func WithRetry(retries int, delay time.Duration, job func() error) Job {
	return func(ctx context.Context) {
		for i := range retries {
			if ctx.Err() != nil {
				return
			}
			err := job()
			if err == nil {
				return
			}
			log.Printf("job failed (attempt %d/%d): %v", i+1, retries, err)
			if i < retries-1 {
				time.Sleep(time.Duration(i+1) * delay)
			}
		}
		log.Printf("job abandoned after %d attempts", retries)
	}
}
