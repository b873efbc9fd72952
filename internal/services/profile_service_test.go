package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoockh/yoochat/internal/cache"
	"github.com/yoockh/yoochat/internal/models"
	"github.com/yoockh/yoochat/internal/utils"
)

type memProfiles struct {
	rows  map[string]models.Profile
	reads int
	err   error
}

func (m *memProfiles) GetByUserID(_ context.Context, userID string) (*models.Profile, error) {
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.rows[userID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &p, nil
}

func (m *memProfiles) Upsert(_ context.Context, p *models.Profile) error {
	m.rows[p.UserID] = *p
	return nil
}

func newProfileFixture(t *testing.T) (*memProfiles, ProfileService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := &memProfiles{rows: map[string]models.Profile{
		"u1": {UserID: "u1", Nickname: "nora", Class: "mage", Badges: []string{"early"}},
	}}
	return repo, NewProfileService(repo, cache.NewRedisCache(rdb, "test:"), quietLogger())
}

func TestGetMeIsCached(t *testing.T) {
	repo, svc := newProfileFixture(t)
	ctx := context.Background()

	p, err := svc.GetMe(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "nora", p.Nickname)

	p, err = svc.GetMe(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, []string(p.Badges))
	assert.Equal(t, 1, repo.reads)
}

func TestUpsertInvalidatesCache(t *testing.T) {
	repo, svc := newProfileFixture(t)
	ctx := context.Background()

	_, err := svc.GetMe(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, svc.Upsert(ctx, &models.Profile{UserID: "u1", Nickname: "nova"}))
	p, err := svc.GetMe(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "nova", p.Nickname)
	assert.False(t, p.UpdatedAt.IsZero())
	assert.Equal(t, 2, repo.reads)

	assert.True(t, utils.IsCode(svc.Upsert(ctx, &models.Profile{}), utils.CodeInvalidArgument))
}

func TestDisplayAttributesFallsBack(t *testing.T) {
	repo, svc := newProfileFixture(t)
	ctx := context.Background()

	assert.Equal(t, models.Profile{UserID: "ghost"}, svc.DisplayAttributes(ctx, "ghost"))

	repo.err = errors.New("db down")
	assert.Equal(t, models.Profile{UserID: "u2"}, svc.DisplayAttributes(ctx, "u2"))

	_, err := svc.GetMe(ctx, "u2")
	assert.True(t, utils.IsCode(err, utils.CodeInternal))
}

type memMessages struct {
	rows []models.ChatMessage
	err  error
}

func (m *memMessages) Insert(_ context.Context, row *models.ChatMessage) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, *row)
	return nil
}

func (m *memMessages) ListByUser(_ context.Context, userID string, _ time.Time, limit int) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	for _, r := range m.rows {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memMessages) GetByStreamID(_ context.Context, streamID string) (*models.ChatMessage, error) {
	for _, r := range m.rows {
		if r.StreamID == streamID {
			return &r, nil
		}
	}
	return nil, utils.ErrNotFound
}

func TestPersistFinalMessage(t *testing.T) {
	repo := &memMessages{}
	svc := NewMessageService(repo)
	ctx := context.Background()

	id, err := svc.PersistFinalMessage(ctx, "u1", "1-ab", "Hello")
	require.NoError(t, err)
	require.Len(t, repo.rows, 1)

	row := repo.rows[0]
	assert.Equal(t, id, row.ID)
	assert.Equal(t, models.RoleAssistant, row.Role)
	assert.Equal(t, "Hello", row.Content)
	assert.JSONEq(t, `{"stream_id":"1-ab","chars":5}`, string(row.Metadata))

	_, err = svc.PersistFinalMessage(ctx, "u1", "1-ac", " ")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	repo.err = errors.New("db down")
	_, err = svc.PersistFinalMessage(ctx, "u1", "1-ad", "x")
	assert.True(t, utils.IsCode(err, utils.CodeInternal))

	rows, err := svc.ListMine(ctx, "u1", time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
