package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoochat/internal/logger"
	"github.com/yoockh/yoochat/internal/models"
	mongorepo "github.com/yoockh/yoochat/internal/repositories/mongo"
	"github.com/yoockh/yoochat/internal/streaming"
)

const (
	DefaultJournalTTL = 7 * 24 * time.Hour

	journalQueueSize    = 512
	journalWriteTimeout = 5 * time.Second
)

// JournalService writes finished-stream records to Mongo off the hot path.
// Record never blocks; when the queue is full the record is dropped.
type JournalService struct {
	repo mongorepo.StreamJournalRepository
	ttl  time.Duration
	log  *logrus.Entry

	queue chan streaming.JournalEntry
	once  sync.Once
	wg    sync.WaitGroup
}

func NewJournalService(repo mongorepo.StreamJournalRepository, ttl time.Duration, l *logrus.Logger) *JournalService {
	if ttl <= 0 {
		ttl = DefaultJournalTTL
	}
	return &JournalService{
		repo:  repo,
		ttl:   ttl,
		log:   logger.Component(l, "stream_journal"),
		queue: make(chan streaming.JournalEntry, journalQueueSize),
	}
}

func (j *JournalService) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for e := range j.queue {
			j.write(e)
		}
	}()
}

// Close drains queued records and stops the writer.
func (j *JournalService) Close() {
	j.once.Do(func() { close(j.queue) })
	j.wg.Wait()
}

func (j *JournalService) Record(e streaming.JournalEntry) {
	defer func() {
		// Record after Close
		_ = recover()
	}()
	select {
	case j.queue <- e:
	default:
		j.log.WithField("stream_id", e.StreamID).Warn("journal queue full, record dropped")
	}
}

func (j *JournalService) write(e streaming.JournalEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	doc := &models.StreamLog{
		StreamID:      e.StreamID,
		UserID:        e.UserID,
		Status:        string(e.Outcome),
		ResponseChars: e.ResponseChars,
		CreatedAt:     e.CreatedAt.UTC(),
		EndedAt:       e.EndedAt.UTC(),
		DurationMS:    e.EndedAt.Sub(e.CreatedAt).Milliseconds(),
		ExpiresAt:     e.EndedAt.Add(j.ttl).UTC(),
	}
	if err := j.repo.Insert(ctx, doc); err != nil {
		j.log.WithError(err).WithFields(logrus.Fields{
			"stream_id": e.StreamID,
			"status":    e.Outcome,
		}).Warn("journal write failed")
	}
}

// Recent returns a user's latest finished streams.
func (j *JournalService) Recent(ctx context.Context, userID string, limit int64) ([]models.StreamLog, error) {
	return j.repo.ListByUser(ctx, userID, limit)
}

// Outcomes counts finished streams by status since t.
func (j *JournalService) Outcomes(ctx context.Context, since time.Time) (map[string]int64, error) {
	return j.repo.CountByStatusSince(ctx, since)
}
