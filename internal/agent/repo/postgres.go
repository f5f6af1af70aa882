package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/uptrace/bun"

	"github.com/connector-chat/server/internal/agent/model"
	errx "github.com/connector-chat/server/internal/core/error"
	logx "github.com/connector-chat/server/pkg/logger"
)

// messageRow is one stored message; ID gives the append order.
type messageRow struct {
	bun.BaseModel `bun:"table:conversation_messages,alias:cm"`

	ID        int64           `bun:"id,pk,autoincrement"`
	SessionID string          `bun:"session_id,notnull"`
	Role      string          `bun:"role,notnull"`
	Message   *schema.Message `bun:"message,type:jsonb,notnull"`
	CreatedAt time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

type PostgresConversationRepository struct {
	db bun.IDB
}

func NewPostgresConversationRepository(db bun.IDB) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db}
}

// Migrate creates the messages table and its session index when missing.
func (r *PostgresConversationRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.NewCreateTable().Model((*messageRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create conversation_messages: %w", errx.WrapPostgres(err))
	}
	_, err := r.db.NewCreateIndex().
		Model((*messageRow)(nil)).
		Index("conversation_messages_session_idx").
		IfNotExists().
		Column("session_id", "id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create conversation_messages index: %w", errx.WrapPostgres(err))
	}
	return nil
}

func (r *PostgresConversationRepository) AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	rows := newMessageRows(sessionID, messages)
	if len(rows) == 0 {
		return nil
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to insert messages into postgres")
		return errx.WrapPostgres(err)
	}
	return nil
}

func (r *PostgresConversationRepository) LoadHistory(ctx context.Context, sessionID string) (*model.ConversationHistory, error) {
	var rows []messageRow
	if err := r.historyQuery(&rows, sessionID).Scan(ctx); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to load conversation history from postgres")
		return nil, errx.WrapPostgres(err)
	}

	msgs, err := rowsToMessages(rows)
	if err != nil {
		return nil, err
	}
	return &model.ConversationHistory{SessionID: sessionID, Messages: msgs}, nil
}

func (r *PostgresConversationRepository) ClearHistory(ctx context.Context, sessionID string) error {
	_, err := r.db.NewDelete().
		Model((*messageRow)(nil)).
		Where("session_id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return errx.WrapPostgres(err)
	}
	return nil
}

func (r *PostgresConversationRepository) GetMessageCount(ctx context.Context, sessionID string) (int, error) {
	n, err := r.db.NewSelect().
		Model((*messageRow)(nil)).
		Where("session_id = ?", sessionID).
		Count(ctx)
	if err != nil {
		return 0, errx.WrapPostgres(err)
	}
	return n, nil
}

// historyQuery selects a session's rows in append order.
func (r *PostgresConversationRepository) historyQuery(rows *[]messageRow, sessionID string) *bun.SelectQuery {
	return r.db.NewSelect().
		Model(rows).
		Where("session_id = ?", sessionID).
		Order("id ASC")
}

func newMessageRows(sessionID string, messages []*schema.Message) []messageRow {
	rows := make([]messageRow, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		rows = append(rows, messageRow{SessionID: sessionID, Role: string(m.Role), Message: m})
	}
	return rows
}

func rowsToMessages(rows []messageRow) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(rows))
	for i, row := range rows {
		if row.Message == nil {
			return nil, fmt.Errorf("empty message at index %d", i)
		}
		msgs = append(msgs, row.Message)
	}
	return msgs, nil
}

var _ model.ConversationRepository = (*PostgresConversationRepository)(nil)
