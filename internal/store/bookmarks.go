package store

import (
	"context"
	"fmt"
)

// AddBookmark reports false when the bookmark already exists.
func (s *PostgresStore) AddBookmark(ctx context.Context, userID, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO bookmarks (user_id, message_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, message_id) DO NOTHING
	`, userID, messageID)
	if err != nil {
		return false, fmt.Errorf("insert bookmark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert bookmark rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) RemoveBookmark(ctx context.Context, userID, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM bookmarks WHERE user_id=$1 AND message_id=$2
	`, userID, messageID)
	if err != nil {
		return false, fmt.Errorf("delete bookmark: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bookmark rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListBookmarks(ctx context.Context, userID string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.channel_id, m.title, m.author_name, m.upvotes, m.downvotes, m.created_at, b.created_at
		FROM bookmarks b
		JOIN messages m ON m.id = b.message_id
		WHERE b.user_id=$1
		ORDER BY b.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	items := make([]Bookmark, 0)
	for rows.Next() {
		var item Bookmark
		if err := rows.Scan(&item.MessageID, &item.ChannelID, &item.Title, &item.AuthorName, &item.Upvotes, &item.Downvotes, &item.CreatedAt, &item.BookmarkedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) IsBookmarked(ctx context.Context, userID, messageID string) (bool, error) {
	var bookmarked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bookmarks WHERE user_id=$1 AND message_id=$2)
	`, userID, messageID).Scan(&bookmarked)
	if err != nil {
		return false, fmt.Errorf("check bookmark: %w", err)
	}
	return bookmarked, nil
}
