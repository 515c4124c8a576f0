package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrParentMismatch is returned when a reply names a parent that belongs to a
// different message, or itself.
var ErrParentMismatch = errors.New("parent reply does not belong to this message")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Channels

func (s *PostgresStore) InsertChannel(ctx context.Context, channel Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, description, created_by)
		VALUES ($1, $2, $3, NULLIF($4, ''))
	`, channel.ID, channel.Name, channel.Description, channel.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, member_count, COALESCE(created_by, ''), created_at
		FROM channels
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	items := make([]Channel, 0)
	for rows.Next() {
		var item Channel
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.MemberCount, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var item Channel
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, member_count, COALESCE(created_by, ''), created_at
		FROM channels
		WHERE id=$1
	`, channelID).Scan(&item.ID, &item.Name, &item.Description, &item.MemberCount, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Channel{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id=$1`, channelID)
	if err != nil {
		return false, fmt.Errorf("delete channel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete channel rows: %w", err)
	}
	return affected > 0, nil
}

// JoinChannel records membership and bumps member_count in one transaction.
// Joining twice is a no-op.
func (s *PostgresStore) JoinChannel(ctx context.Context, channelID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin join tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (channel_id, user_id) DO NOTHING
	`, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("insert membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert membership rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE channels SET member_count = member_count + 1 WHERE id=$1`, channelID); err != nil {
		return false, fmt.Errorf("bump member count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit join tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) LeaveChannel(ctx context.Context, channelID, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin leave tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM channel_members WHERE channel_id=$1 AND user_id=$2
	`, channelID, userID)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete membership rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE channels SET member_count = member_count - 1 WHERE id=$1 AND member_count > 0
	`, channelID); err != nil {
		return false, fmt.Errorf("drop member count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit leave tx: %w", err)
	}
	return true, nil
}

// Messages

// InsertMessage writes the message and bumps the author's post_count together.
func (s *PostgresStore) InsertMessage(ctx context.Context, message Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_id, author_name, title, content, image_url)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
	`, message.ID, message.ChannelID, message.AuthorID, message.AuthorName, message.Title, message.Content, message.ImageURL); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET post_count = post_count + 1 WHERE id=$1
	`, message.AuthorID); err != nil {
		return fmt.Errorf("bump post count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChannelMessages(ctx context.Context, channelID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_id, author_name, title, content, COALESCE(image_url, ''), upvotes, downvotes, created_at
		FROM messages
		WHERE channel_id=$1
		ORDER BY created_at DESC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ChannelID, &item.AuthorID, &item.AuthorName, &item.Title, &item.Content, &item.ImageURL, &item.Upvotes, &item.Downvotes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, author_id, author_name, title, content, COALESCE(image_url, ''), upvotes, downvotes, created_at
		FROM messages
		WHERE id=$1
	`, messageID).Scan(&item.ID, &item.ChannelID, &item.AuthorID, &item.AuthorName, &item.Title, &item.Content, &item.ImageURL, &item.Upvotes, &item.Downvotes, &item.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

// DeleteMessage removes the message (replies cascade via FK) and drops the
// author's post_count accordingly.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete message tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var authorID string
	err = tx.QueryRowContext(ctx, `DELETE FROM messages WHERE id=$1 RETURNING author_id`, messageID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET post_count = post_count - 1 WHERE id=$1 AND post_count > 0
	`, authorID); err != nil {
		return false, fmt.Errorf("drop post count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete message tx: %w", err)
	}
	return true, nil
}

// Replies

// InsertReply validates the parent reference as a hard invariant: a parent
// must exist, belong to the same message, and differ from the reply itself.
func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reply tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if reply.ParentReplyID != "" {
		if reply.ParentReplyID == reply.ID {
			return ErrParentMismatch
		}
		var parentMessageID string
		err := tx.QueryRowContext(ctx, `SELECT message_id FROM replies WHERE id=$1`, reply.ParentReplyID).Scan(&parentMessageID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrParentMismatch
		}
		if err != nil {
			return fmt.Errorf("lookup parent reply: %w", err)
		}
		if parentMessageID != reply.MessageID {
			return ErrParentMismatch
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO replies (id, message_id, parent_reply_id, author_id, author_name, content, image_url)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''))
	`, reply.ID, reply.MessageID, reply.ParentReplyID, reply.AuthorID, reply.AuthorName, reply.Content, reply.ImageURL); err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET post_count = post_count + 1 WHERE id=$1
	`, reply.AuthorID); err != nil {
		return fmt.Errorf("bump post count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reply tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessageReplies(ctx context.Context, messageID string) ([]Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, COALESCE(parent_reply_id, ''), author_id, author_name, content, COALESCE(image_url, ''), upvotes, downvotes, created_at
		FROM replies
		WHERE message_id=$1
		ORDER BY created_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make([]Reply, 0)
	for rows.Next() {
		var item Reply
		if err := rows.Scan(&item.ID, &item.MessageID, &item.ParentReplyID, &item.AuthorID, &item.AuthorName, &item.Content, &item.ImageURL, &item.Upvotes, &item.Downvotes, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetReply(ctx context.Context, replyID string) (Reply, error) {
	var item Reply
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, COALESCE(parent_reply_id, ''), author_id, author_name, content, COALESCE(image_url, ''), upvotes, downvotes, created_at
		FROM replies
		WHERE id=$1
	`, replyID).Scan(&item.ID, &item.MessageID, &item.ParentReplyID, &item.AuthorID, &item.AuthorName, &item.Content, &item.ImageURL, &item.Upvotes, &item.Downvotes, &item.CreatedAt)
	if err != nil {
		return Reply{}, err
	}
	return item, nil
}

// DeleteReply removes the reply and its descendants (FK cascade) and drops the
// author's post_count for the reply itself.
func (s *PostgresStore) DeleteReply(ctx context.Context, replyID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete reply tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var authorID string
	err = tx.QueryRowContext(ctx, `DELETE FROM replies WHERE id=$1 RETURNING author_id`, replyID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete reply: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET post_count = post_count - 1 WHERE id=$1 AND post_count > 0
	`, authorID); err != nil {
		return false, fmt.Errorf("drop post count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete reply tx: %w", err)
	}
	return true, nil
}

// Refresh sessions, used as the fallback session store when Redis is not configured

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id
		FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
