package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLLike implements Searcher using case-insensitive substring matching in
// PostgreSQL as a fallback.
type SQLLike struct {
	db *sql.DB
}

// NewSQLLike creates a PostgreSQL substring searcher.
func NewSQLLike(db *sql.DB) *SQLLike {
	return &SQLLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *SQLLike) Healthy() bool {
	return true
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// sortClause maps a validated sort name to an ORDER BY expression over the
// merged message/reply projection.
func sortClause(sort string) string {
	switch sort {
	case SortUpvotes:
		return "upvotes DESC, created_at DESC"
	case SortDownvotes:
		return "downvotes DESC, created_at DESC"
	case SortDateAsc:
		return "created_at ASC"
	case SortDateDesc:
		return "created_at DESC"
	default:
		return "rank DESC, created_at DESC"
	}
}

// Search executes a UNION ALL query across messages and replies. Title
// matches rank above content matches for the relevance ordering.
func (p *SQLLike) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"

	const sub = `
		SELECT 'message'::text AS type, m.id, m.id AS message_id, m.channel_id, m.title,
			left(m.content, 200) AS snippet,
			m.upvotes, m.downvotes, m.created_at,
			CASE WHEN m.title ILIKE $1 ESCAPE '\' THEN 2 ELSE 1 END AS rank
		FROM messages m
		WHERE m.title ILIKE $1 ESCAPE '\' OR m.content ILIKE $1 ESCAPE '\'
		UNION ALL
		SELECT 'reply'::text AS type, r.id, r.message_id, m.channel_id, m.title,
			left(r.content, 200) AS snippet,
			r.upvotes, r.downvotes, r.created_at,
			1 AS rank
		FROM replies r
		JOIN messages m ON m.id = r.message_id
		WHERE r.content ILIKE $1 ESCAPE '\'`

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", sub)
	dataSQL := fmt.Sprintf(`SELECT type, id, message_id, channel_id, title, snippet, upvotes, downvotes, created_at
		FROM (%s) sub
		ORDER BY %s
		LIMIT %d OFFSET %d`, sub, sortClause(q.Sort), limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		var createdAt sql.NullTime
		if err := rows.Scan(&typ, &r.ID, &r.MessageID, &r.ChannelID, &r.Title, &r.Snippet, &r.Upvotes, &r.Downvotes, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("search scan: %w", err)
		}
		r.Type = ResultType(typ)
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time.Unix()
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *SQLLike) LoadAllRecords(ctx context.Context) ([]MessageRecord, []ReplyRecord, error) {
	messageRows, err := p.db.QueryContext(ctx, `
		SELECT id, channel_id, title, content, author_name, upvotes, downvotes, extract(epoch FROM created_at)::bigint
		FROM messages
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer messageRows.Close()

	messages := make([]MessageRecord, 0)
	for messageRows.Next() {
		var m MessageRecord
		if err := messageRows.Scan(&m.ID, &m.ChannelID, &m.Title, &m.Content, &m.AuthorName, &m.Upvotes, &m.Downvotes, &m.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := messageRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	replyRows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.message_id, m.channel_id, r.content, r.author_name, r.upvotes, r.downvotes, extract(epoch FROM r.created_at)::bigint
		FROM replies r
		JOIN messages m ON m.id = r.message_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load replies: %w", err)
	}
	defer replyRows.Close()

	replies := make([]ReplyRecord, 0)
	for replyRows.Next() {
		var r ReplyRecord
		if err := replyRows.Scan(&r.ID, &r.MessageID, &r.ChannelID, &r.Content, &r.AuthorName, &r.Upvotes, &r.Downvotes, &r.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := replyRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate replies: %w", err)
	}

	return messages, replies, nil
}
