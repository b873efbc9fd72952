package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoochat/internal/models"
	"github.com/yoockh/yoochat/internal/streaming"
)

type memJournalRepo struct {
	mu   sync.Mutex
	docs []models.StreamLog
}

func (m *memJournalRepo) Insert(_ context.Context, l *models.StreamLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, *l)
	return nil
}

func (m *memJournalRepo) ListByUser(_ context.Context, userID string, _ int64) ([]models.StreamLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StreamLog
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memJournalRepo) CountByStatusSince(context.Context, time.Time) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for _, d := range m.docs {
		out[d.Status]++
	}
	return out, nil
}

func TestJournalWritesRecordsWithExpiry(t *testing.T) {
	repo := &memJournalRepo{}
	j := NewJournalService(repo, time.Hour, quietLogger())
	j.Start()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	j.Record(streaming.JournalEntry{
		StreamID:      "1-ab",
		UserID:        "u1",
		Outcome:       streaming.OutcomeCompleted,
		ResponseChars: 5,
		CreatedAt:     created,
		EndedAt:       created.Add(2 * time.Second),
	})
	j.Record(streaming.JournalEntry{StreamID: "1-ac", UserID: "u1", Outcome: streaming.OutcomeIdleTimeout, CreatedAt: created, EndedAt: created})
	j.Close()
	j.Record(streaming.JournalEntry{StreamID: "1-ad"})

	docs, err := j.Recent(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "completed", docs[0].Status)
	assert.Equal(t, int64(2000), docs[0].DurationMS)
	assert.Equal(t, created.Add(2*time.Second+time.Hour), docs[0].ExpiresAt)

	counts, err := j.Outcomes(context.Background(), created)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["idle_timeout"])
}
