package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, display_name, is_admin)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, user.PasswordHash, user.DisplayName, user.IsAdmin)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, display_name, is_admin, post_count, last_login, created_at
		FROM users
		WHERE username=$1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.DisplayName, &user.IsAdmin, &user.PostCount, &user.LastLogin, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, display_name, is_admin, post_count, last_login, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.DisplayName, &user.IsAdmin, &user.PostCount, &user.LastLogin, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, display_name, is_admin, post_count, last_login, created_at
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.DisplayName, &user.IsAdmin, &user.PostCount, &user.LastLogin, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user rows: %w", err)
	}
	return affected > 0, nil
}

// SetAdmin flips the admin flag and reports the new value.
func (s *PostgresStore) SetAdmin(ctx context.Context, userID string, isAdmin bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin=$2 WHERE id=$1`, userID, isAdmin)
	if err != nil {
		return false, fmt.Errorf("set admin: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set admin rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=NOW() WHERE id=$1`, userID)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// GetUserAnalytics aggregates a user's posting activity across channels.
func (s *PostgresStore) GetUserAnalytics(ctx context.Context, userID string) (UserAnalytics, error) {
	var analytics UserAnalytics

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM messages WHERE author_id=$1),
			(SELECT COUNT(*) FROM replies WHERE author_id=$1)
	`, userID).Scan(&analytics.TotalMessages, &analytics.TotalReplies)
	if err != nil {
		return UserAnalytics{}, fmt.Errorf("count user posts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, COUNT(m.id) AS message_count
		FROM channels c
		JOIN messages m ON m.channel_id = c.id
		WHERE m.author_id=$1
		GROUP BY c.id, c.name
		ORDER BY message_count DESC
	`, userID)
	if err != nil {
		return UserAnalytics{}, fmt.Errorf("list active channels: %w", err)
	}
	defer rows.Close()

	analytics.Channels = make([]ChannelActivity, 0)
	for rows.Next() {
		var activity ChannelActivity
		if err := rows.Scan(&activity.ID, &activity.Name, &activity.MessageCount); err != nil {
			return UserAnalytics{}, fmt.Errorf("scan channel activity: %w", err)
		}
		analytics.Channels = append(analytics.Channels, activity)
	}
	if err := rows.Err(); err != nil {
		return UserAnalytics{}, fmt.Errorf("iterate channel activity: %w", err)
	}
	analytics.ActiveChannels = len(analytics.Channels)
	return analytics, nil
}
