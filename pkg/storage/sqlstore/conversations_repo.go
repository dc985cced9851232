package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/caam1406/clawdesk/pkg/storage/repository"
)

type conversationRepository struct {
	db      dbExecutor
	dialect Dialect
}

// NewConversationRepository creates a conversation event repository over db.
func NewConversationRepository(db dbExecutor, dialect Dialect) repository.ConversationRepository {
	return &conversationRepository{db: db, dialect: dialect}
}

func (r *conversationRepository) AppendEvent(ctx context.Context, ev *repository.ConversationEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	query := r.dialect.Rebind(`INSERT INTO conversation_events
	          (event_id, conversation_id, agent_id, kind, status, role, content, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (event_id) DO NOTHING`)

	_, err := r.db.ExecContext(ctx, query,
		ev.ID,
		ev.ConversationID,
		ev.AgentID,
		ev.Kind,
		ev.Status,
		ev.Role,
		ev.Content,
		r.dialect.Time(ev.CreatedAt),
	)
	return err
}

func (r *conversationRepository) ListEvents(ctx context.Context, conversationID string, limit int) ([]repository.ConversationEvent, error) {
	query := `SELECT event_id, conversation_id, agent_id, kind, status, role, content, created_at
	          FROM conversation_events WHERE conversation_id = ? ORDER BY seq DESC`
	args := []interface{}{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []repository.ConversationEvent
	for rows.Next() {
		var ev repository.ConversationEvent
		var created dbTime
		if err := rows.Scan(
			&ev.ID,
			&ev.ConversationID,
			&ev.AgentID,
			&ev.Kind,
			&ev.Status,
			&ev.Role,
			&ev.Content,
			&created,
		); err != nil {
			return nil, err
		}
		ev.CreatedAt = created.Time
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest first from the query; callers want arrival order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (r *conversationRepository) LatestStatus(ctx context.Context, conversationID string) (string, error) {
	query := r.dialect.Rebind(`SELECT status FROM conversation_events
	          WHERE conversation_id = ? AND kind = ?
	          ORDER BY seq DESC LIMIT 1`)

	var status string
	err := r.db.QueryRowContext(ctx, query, conversationID, repository.EventStatus).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return status, err
}

func (r *conversationRepository) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT conversation_id FROM conversation_events ORDER BY conversation_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *conversationRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		r.dialect.Rebind(`DELETE FROM conversation_events WHERE created_at < ?`),
		r.dialect.Time(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
