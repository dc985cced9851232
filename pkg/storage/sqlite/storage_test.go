package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/storage/sqlstore"
)

func openTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	return openSealedStorage(t, nil)
}

func openSealedStorage(t *testing.T, sealer sqlstore.Sealer) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "data.db"), sealer)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsAreRecordedOnce(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx))
	versions, err := sqlstore.AppliedMigrations(ctx, s.DB())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)
	assert.NoError(t, s.Ping(ctx))
}

func TestAccountRepository(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	repo := s.Accounts()

	got, err := repo.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, repo.Save(ctx, repository.Account{
		WABAID: "w1", PhoneNumberID: "p1", BusinessID: "b1", Code: "c1", SessionID: "s1",
	}))
	first, err := repo.Get(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "p1", first.PhoneNumberID)
	assert.Equal(t, "c1", first.Code)
	assert.False(t, first.CreatedAt.IsZero())

	require.NoError(t, repo.Save(ctx, repository.Account{
		WABAID: "w1", PhoneNumberID: "p2", BusinessID: "b1", CreatedAt: first.CreatedAt,
	}))
	require.NoError(t, repo.Save(ctx, repository.Account{WABAID: "w2", PhoneNumberID: "p3", BusinessID: "b2"}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "w2", list[0].WABAID, "most recently updated first")
	assert.Equal(t, "p2", list[1].PhoneNumberID)
	assert.True(t, list[1].CreatedAt.Equal(first.CreatedAt))

	require.NoError(t, repo.Delete(ctx, "w1"))
	assert.ErrorIs(t, repo.Delete(ctx, "w1"), sql.ErrNoRows)
}

func TestConversationRepository(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()
	repo := s.Conversations()

	status, err := repo.LatestStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, status)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []repository.ConversationEvent{
		{ConversationID: "c1", Kind: repository.EventStatus, Status: "processing", CreatedAt: base},
		{ConversationID: "c1", Kind: repository.EventMessage, Role: "user", Content: "hi", CreatedAt: base.Add(time.Second)},
		{ConversationID: "c2", Kind: repository.EventStatus, Status: "failed", CreatedAt: base.Add(2 * time.Second)},
		{ConversationID: "c1", Kind: repository.EventStatus, Status: "completed", CreatedAt: base.Add(3 * time.Second)},
		{ConversationID: "c1", Kind: repository.EventComplete, Content: "done", CreatedAt: base.Add(4 * time.Second)},
	}
	for i := range events {
		require.NoError(t, repo.AppendEvent(ctx, &events[i]))
		assert.NotEmpty(t, events[i].ID)
	}
	dup := events[0]
	require.NoError(t, repo.AppendEvent(ctx, &dup))

	list, err := repo.ListEvents(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "processing", list[0].Status)
	assert.Equal(t, "hi", list[1].Content)
	assert.True(t, list[0].CreatedAt.Equal(base))

	tail, err := repo.ListEvents(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "completed", tail[0].Status)
	assert.Equal(t, repository.EventComplete, tail[1].Kind)

	status, err = repo.LatestStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "completed", status)

	ids, err := repo.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)

	n, err := repo.PruneBefore(ctx, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err = repo.ListEvents(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAccountCodeIsSealedAtRest(t *testing.T) {
	box, err := config.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	s := openSealedStorage(t, box)
	ctx := context.Background()

	require.NoError(t, s.Accounts().Save(ctx, repository.Account{
		WABAID: "w1", PhoneNumberID: "p1", BusinessID: "b1", Code: "auth-code",
	}))

	var stored string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT code FROM accounts WHERE waba_id = ?`, "w1").Scan(&stored))
	assert.NotContains(t, stored, "auth-code")
	assert.NotEmpty(t, stored)

	got, err := s.Accounts().Get(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "auth-code", got.Code)

	// rows written before sealing was enabled stay readable
	plain := sqlstore.NewAccountRepository(s.DB(), sqlstore.SQLite, nil)
	require.NoError(t, plain.Save(ctx, repository.Account{
		WABAID: "w2", PhoneNumberID: "p2", BusinessID: "b2", Code: "old-code",
	}))

	list, err := s.Accounts().List(ctx)
	require.NoError(t, err)
	codes := map[string]string{}
	for _, acc := range list {
		codes[acc.WABAID] = acc.Code
	}
	assert.Equal(t, map[string]string{"w1": "auth-code", "w2": "old-code"}, codes)
}
