package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/storage"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/storage/sqlite"
	"github.com/caam1406/clawdesk/pkg/stream"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func openSQLite(t *testing.T, name string) storage.Storage {
	t.Helper()
	store, err := openStorage(context.Background(), config.StorageConfig{
		Type:     "sqlite",
		FilePath: filepath.Join(t.TempDir(), name),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seed(t *testing.T, store storage.Storage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Accounts().Save(ctx, repository.Account{
		WABAID:        "waba-1",
		PhoneNumberID: "phone-1",
		BusinessID:    "biz-1",
		Code:          "secret-code",
		SessionID:     "s1",
	}))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range []repository.ConversationEvent{
		{ConversationID: "c1", Kind: repository.EventStatus, Status: "processing"},
		{ConversationID: "c1", Kind: repository.EventMessage, Role: "assistant", Content: "hello"},
		{ConversationID: "team/c2", Kind: repository.EventError, Content: "boom"},
	} {
		ev.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Conversations().AppendEvent(ctx, &ev))
	}
}

func TestMigrateData(t *testing.T) {
	ctx := context.Background()
	src := openSQLite(t, "src.db")
	dst := openSQLite(t, "dst.db")
	seed(t, src)

	var out bytes.Buffer
	require.NoError(t, migrateData(ctx, src, dst, &out))
	require.NoError(t, migrateData(ctx, src, dst, &out), "a second run skips what is already there")
	assert.Contains(t, out.String(), "2 conversations, 3 events")

	acc, err := dst.Accounts().Get(ctx, "waba-1")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "secret-code", acc.Code)

	var stored string
	db := dst.(*sqlite.SQLiteStorage).DB()
	require.NoError(t, db.QueryRowContext(ctx, `SELECT code FROM accounts WHERE waba_id = ?`, "waba-1").Scan(&stored))
	assert.NotContains(t, stored, "secret-code", "codes are sealed in the target too")

	events, err := dst.Conversations().ListEvents(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "hello", events[1].Content)

	status, err := dst.Conversations().LatestStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "processing", status)
}

func TestExportData(t *testing.T) {
	store := openSQLite(t, "data.db")
	seed(t, store)

	dir := t.TempDir()
	require.NoError(t, exportData(context.Background(), store, dir))

	raw, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-code")

	var accounts []repository.Account
	require.NoError(t, json.Unmarshal(raw, &accounts))
	require.Len(t, accounts, 1)
	assert.Equal(t, "phone-1", accounts[0].PhoneNumberID)

	raw, err = os.ReadFile(filepath.Join(dir, "conversations", "team_c2.json"))
	require.NoError(t, err)
	var events []repository.ConversationEvent
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 1)
	assert.Equal(t, repository.EventError, events[0].Kind)
}

func TestSameTarget(t *testing.T) {
	assert.True(t, sameTarget(
		config.StorageConfig{Type: "sqlite", FilePath: "/data/./a.db"},
		config.StorageConfig{Type: "sqlite", FilePath: "/data/a.db"},
	))
	assert.False(t, sameTarget(
		config.StorageConfig{Type: "sqlite", FilePath: "/data/a.db", DatabaseURL: "postgres://x"},
		config.StorageConfig{Type: "postgres", FilePath: "/data/a.db", DatabaseURL: "postgres://x"},
	))
	assert.True(t, sameTarget(
		config.StorageConfig{Type: "postgres", DatabaseURL: "postgres://x"},
		config.StorageConfig{Type: "postgres", DatabaseURL: "postgres://x"},
	))
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "go? "))
	assert.False(t, confirm(strings.NewReader("y\n"), &out, "go? "))
	assert.False(t, confirm(strings.NewReader(""), &out, "go? "))
	assert.Equal(t, "go? go? go? ", out.String())
}

func TestEventLine(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	assert.Equal(t, "12:00:00 [processing]", eventLine(repository.ConversationEvent{
		Kind: repository.EventStatus, Status: "processing", CreatedAt: at,
	}))
	assert.Equal(t, "12:00:00 assistant> hi", eventLine(repository.ConversationEvent{
		Kind: repository.EventMessage, Role: "assistant", Content: "hi", CreatedAt: at,
	}))
	assert.Equal(t, "12:00:00 [error] boom", eventLine(repository.ConversationEvent{
		Kind: repository.EventError, Content: "boom", CreatedAt: at,
	}))
	assert.Equal(t, "12:00:00 [complete] done", eventLine(repository.ConversationEvent{
		Kind: repository.EventComplete, Content: "done", CreatedAt: at,
	}))
}

func TestPrinter(t *testing.T) {
	tests := []struct {
		name string
		feed func(h stream.Handlers)
		want string
	}{
		{
			name: "chunks end with a newline",
			feed: func(h stream.Handlers) {
				h.OnChunk(stream.ChunkEvent{Content: "Hel"})
				h.OnChunk(stream.ChunkEvent{Content: "lo"})
				h.OnComplete("Hello")
			},
			want: "Hello\n",
		},
		{
			name: "reply only in the complete event",
			feed: func(h stream.Handlers) {
				h.OnStatus(stream.StatusEvent{Status: stream.StatusCompleted})
				h.OnComplete("Updated prompt")
			},
			want: "[completed]\nUpdated prompt\n",
		},
		{
			name: "agent message is not repeated",
			feed: func(h stream.Handlers) {
				h.OnMessage(stream.MessageEvent{Role: stream.RoleUser, Content: "hi"})
				h.OnMessage(stream.MessageEvent{Role: stream.RoleAgent, Content: "Hello"})
				h.OnComplete("Hello")
			},
			want: "agent> Hello\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			acc := stream.NewAccumulator()
			err := acc.Run(printer(&out, acc), func(h stream.Handlers) error {
				tt.feed(h)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
			assert.False(t, acc.Loading())
		})
	}
}
