package relay

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/lunalabs/luna-relay/internal/kg"
	"github.com/lunalabs/luna-relay/internal/storage"
	"github.com/lunalabs/luna-relay/pkg/types"
)

// ExtractionJob is one queued extraction run over a finished conversation.
type ExtractionJob struct {
	Scope          storage.Scope
	ConversationID string
	Messages       []types.Message
}

// Scheduler runs extraction jobs on a bounded worker pool behind a rate
// limiter. Enqueueing never blocks the conversation path: when the queue is
// full the job is dropped with a log line, and the conversation data stays
// safe in the store regardless.
type Scheduler struct {
	extractor *kg.Extractor
	jobs      chan ExtractionJob
	limiter   *rate.Limiter
	log       *log.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewScheduler builds a scheduler with the given worker count, queue size,
// and extraction rate (runs per minute).
func NewScheduler(extractor *kg.Extractor, workers, queueSize int, ratePerMin float64, logger *log.Logger) *Scheduler {
	s := &Scheduler{
		extractor: extractor,
		jobs:      make(chan ExtractionJob, queueSize),
		limiter:   rate.NewLimiter(rate.Limit(ratePerMin/60.0), workers),
		log:       logger.With("component", "scheduler"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return s
}

// Enqueue schedules an extraction run. Returns false if the queue is full and
// the job was dropped.
func (s *Scheduler) Enqueue(job ExtractionJob) bool {
	select {
	case s.jobs <- job:
		return true
	default:
		s.log.Warn("extraction queue full, dropping job", "conversation", job.ConversationID)
		return false
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.extractor.ExtractAndStore(ctx, job.Scope, job.ConversationID, job.Messages); err != nil {
				// Extraction failures are terminal for the run; the
				// conversation itself is already persisted.
				s.log.Error("extraction run failed", "conversation", job.ConversationID, "error", err)
			}
		}
	}
}

// Close stops the workers. Queued jobs not yet started are discarded.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}
