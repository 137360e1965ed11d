package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/livesync/internal/errs"
	"github.com/and161185/livesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// chatColumns maps chat categories to chat_state columns. Only these
// constants are ever formatted into SQL.
var chatColumns = map[model.SyncDataType]string{
	model.SyncReceivedBlocks: "received_blocks",
	model.SyncReceivedLikes:  "received_likes",
	model.SyncSentBlocks:     "sent_blocks",
	model.SyncSentLikes:      "sent_likes",
	model.SyncMatches:        "matches",
}

func chatColumn(t model.SyncDataType) (string, error) {
	c, ok := chatColumns[t]
	if !ok {
		return "", fmt.Errorf("sync data type %d is not a chat category", t)
	}
	return c, nil
}

// ChatRepo implements ChatRepository using PostgreSQL.
type ChatRepo struct{ db *DB }

// NewChatRepo constructs a chat repository.
func NewChatRepo(db *DB) *ChatRepo { return &ChatRepo{db: db} }

// ChatState selects the chat category versions.
func (r *ChatRepo) ChatState(ctx context.Context, id uuid.UUID) (model.ChatState, error) {
	const q = `
SELECT received_blocks, received_likes, sent_blocks, sent_likes, matches
FROM chat_state WHERE account_id=$1`
	var rb, rl, sb, sl, m int16
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&rb, &rl, &sb, &sl, &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChatState{}, fmt.Errorf("chat state %s: %w", id, errs.ErrNotFound)
		}
		return model.ChatState{}, err
	}
	return model.ChatState{
		ReceivedBlocks: model.SyncVersion(rb),
		ReceivedLikes:  model.SyncVersion(rl),
		SentBlocks:     model.SyncVersion(sb),
		SentLikes:      model.SyncVersion(sl),
		Matches:        model.SyncVersion(m),
	}, nil
}

// ResetChatSyncVersion sets one category version to 0.
func (r *ChatRepo) ResetChatSyncVersion(ctx context.Context, id uuid.UUID, t model.SyncDataType) error {
	col, err := chatColumn(t)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE chat_state SET %s=0 WHERE account_id=$1`, col)
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat state %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// IncrementChatSyncVersion advances one category version, wrapping 254 to 0.
func (r *ChatRepo) IncrementChatSyncVersion(ctx context.Context, id uuid.UUID, t model.SyncDataType) (model.SyncVersion, error) {
	col, err := chatColumn(t)
	if err != nil {
		return 0, err
	}
	q := fmt.Sprintf(`UPDATE chat_state SET %[1]s=(%[1]s+1)%%255 WHERE account_id=$1 RETURNING %[1]s`, col)
	var v int16
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("chat state %s: %w", id, errs.ErrNotFound)
		}
		return 0, err
	}
	return model.SyncVersion(v), nil
}

// PendingMessageCount counts messages the account has not fetched yet.
func (r *ChatRepo) PendingMessageCount(ctx context.Context, id uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM pending_messages WHERE account_id_receiver=$1`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}
