package memory

import (
	"context"
	"errors"
	"time"
)

// indexJob is one deferred embed-and-index unit of work.
type indexJob struct {
	memoryID string
	content  string
	attempt  int
}

// maxIndexAttempts bounds retries for a single job; after that the
// record stays durable but unsearchable until the next rebuild.
const maxIndexAttempts = 3

// Start launches the indexing worker pool. Safe to call once; a second
// call is a no-op.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.jobs = make(chan indexJob, s.cfg.QueueSize)
	s.started = true

	for i := 0; i < s.cfg.AsyncWorkers; i++ {
		s.wg.Add(1)
		go s.indexWorker(i)
	}
	s.log.Info("indexing workers started", "workers", s.cfg.AsyncWorkers, "queue", s.cfg.QueueSize)
}

// Shutdown closes the queue and waits for workers to drain in-flight
// jobs, up to the configured timeout or ctx cancellation.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.jobs)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("indexing workers drained")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("shutdown timeout reached, pending index jobs dropped")
		return nil
	case <-ctx.Done():
		s.log.Warn("shutdown cancelled, pending index jobs dropped")
		return ctx.Err()
	}
}

func (s *Store) enqueue(job indexJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	select {
	case s.jobs <- job:
		return nil
	default:
		return errors.New("index queue full")
	}
}

func (s *Store) indexWorker(id int) {
	defer s.wg.Done()

	for job := range s.jobs {
		s.processIndexJob(id, job)
	}
}

// processIndexJob embeds the content, re-persists the record with its
// embedding, and adds it to the index. Uses a background context so a
// caller-scoped cancellation cannot strand a half-indexed record.
func (s *Store) processIndexJob(workerID int, job indexJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if job.attempt > 0 {
		time.Sleep(time.Duration(job.attempt*job.attempt) * 100 * time.Millisecond)
	}

	rec, err := s.records.GetMemory(ctx, job.memoryID)
	if err != nil {
		// Deleted before indexing caught up; nothing to do.
		s.log.Debug("index job skipped, record gone", "worker", workerID, "memory_id", job.memoryID)
		return
	}

	vec, err := s.embed(ctx, rec.Content)
	if err != nil {
		s.retryOrDrop(workerID, job, err)
		return
	}
	rec.Embedding = vec

	if err := s.records.PutMemory(ctx, rec); err != nil {
		s.retryOrDrop(workerID, job, err)
		return
	}
	if _, err := s.index.Add(vec, rec.ID); err != nil {
		s.log.Error("index add failed", "worker", workerID, "memory_id", job.memoryID, "err", err)
		return
	}

	s.log.Debug("memory indexed", "worker", workerID, "memory_id", job.memoryID)
}

func (s *Store) retryOrDrop(workerID int, job indexJob, cause error) {
	if job.attempt+1 >= maxIndexAttempts {
		s.log.Error("index job dropped after retries",
			"worker", workerID, "memory_id", job.memoryID, "attempts", job.attempt+1, "err", cause)
		return
	}
	job.attempt++
	if err := s.enqueue(job); err != nil {
		s.log.Error("index job requeue failed",
			"worker", workerID, "memory_id", job.memoryID, "err", err)
	}
}
