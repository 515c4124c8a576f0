package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"codeconnect/api/internal/util"
)

// VoteType is a tagged enum; every counter column below is selected by an
// explicit branch on it, never by interpolating the value into SQL.
type VoteType string

const (
	VoteUp   VoteType = "upvote"
	VoteDown VoteType = "downvote"
)

// VoteTarget names exactly one of a message or a reply.
type VoteTarget struct {
	MessageID string
	ReplyID   string
}

func MessageTarget(id string) VoteTarget { return VoteTarget{MessageID: id} }
func ReplyTarget(id string) VoteTarget   { return VoteTarget{ReplyID: id} }

type VoteResult string

const (
	VoteAdded   VoteResult = "added"
	VoteRemoved VoteResult = "removed"
	VoteChanged VoteResult = "changed"
)

// ApplyVote runs the vote state transition for one (user, target) pair inside
// a single transaction. The target row is locked first, so concurrent votes on
// the same target serialize and the denormalized counters cannot drift from
// the ledger.
func (s *PostgresStore) ApplyVote(ctx context.Context, userID string, target VoteTarget, voteType VoteType) (VoteResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin vote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockVoteTarget(ctx, tx, target); err != nil {
		return "", err
	}

	existing, found, err := readVote(ctx, tx, userID, target)
	if err != nil {
		return "", err
	}

	var result VoteResult
	switch {
	case !found:
		if err := insertVote(ctx, tx, userID, target, voteType); err != nil {
			return "", err
		}
		if err := adjustCounter(ctx, tx, target, voteType, +1); err != nil {
			return "", err
		}
		result = VoteAdded

	case existing == voteType:
		if err := deleteVote(ctx, tx, userID, target); err != nil {
			return "", err
		}
		if err := adjustCounter(ctx, tx, target, voteType, -1); err != nil {
			return "", err
		}
		result = VoteRemoved

	default:
		if err := updateVote(ctx, tx, userID, target, voteType); err != nil {
			return "", err
		}
		if err := adjustCounter(ctx, tx, target, existing, -1); err != nil {
			return "", err
		}
		if err := adjustCounter(ctx, tx, target, voteType, +1); err != nil {
			return "", err
		}
		result = VoteChanged
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit vote tx: %w", err)
	}
	return result, nil
}

// VoteStatus returns the caller's active vote on the target, or "" when none.
func (s *PostgresStore) VoteStatus(ctx context.Context, userID string, target VoteTarget) (VoteType, error) {
	var query string
	var targetID string
	if target.MessageID != "" {
		query = `SELECT vote_type FROM votes WHERE user_id=$1 AND message_id=$2`
		targetID = target.MessageID
	} else {
		query = `SELECT vote_type FROM votes WHERE user_id=$1 AND reply_id=$2`
		targetID = target.ReplyID
	}
	var voteType VoteType
	err := s.db.QueryRowContext(ctx, query, userID, targetID).Scan(&voteType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("vote status: %w", err)
	}
	return voteType, nil
}

func lockVoteTarget(ctx context.Context, tx *sql.Tx, target VoteTarget) error {
	var query, targetID string
	if target.MessageID != "" {
		query = `SELECT id FROM messages WHERE id=$1 FOR UPDATE`
		targetID = target.MessageID
	} else {
		query = `SELECT id FROM replies WHERE id=$1 FOR UPDATE`
		targetID = target.ReplyID
	}
	var locked string
	if err := tx.QueryRowContext(ctx, query, targetID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock vote target: %w", err)
	}
	return nil
}

func readVote(ctx context.Context, tx *sql.Tx, userID string, target VoteTarget) (VoteType, bool, error) {
	var query, targetID string
	if target.MessageID != "" {
		query = `SELECT vote_type FROM votes WHERE user_id=$1 AND message_id=$2`
		targetID = target.MessageID
	} else {
		query = `SELECT vote_type FROM votes WHERE user_id=$1 AND reply_id=$2`
		targetID = target.ReplyID
	}
	var voteType VoteType
	err := tx.QueryRowContext(ctx, query, userID, targetID).Scan(&voteType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read vote: %w", err)
	}
	return voteType, true, nil
}

func insertVote(ctx context.Context, tx *sql.Tx, userID string, target VoteTarget, voteType VoteType) error {
	var err error
	if target.MessageID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO votes (id, user_id, message_id, vote_type)
			VALUES ($1, $2, $3, $4)
		`, util.NewID("v"), userID, target.MessageID, voteType)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO votes (id, user_id, reply_id, vote_type)
			VALUES ($1, $2, $3, $4)
		`, util.NewID("v"), userID, target.ReplyID, voteType)
	}
	if err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

func updateVote(ctx context.Context, tx *sql.Tx, userID string, target VoteTarget, voteType VoteType) error {
	var err error
	if target.MessageID != "" {
		_, err = tx.ExecContext(ctx, `UPDATE votes SET vote_type=$3 WHERE user_id=$1 AND message_id=$2`, userID, target.MessageID, voteType)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE votes SET vote_type=$3 WHERE user_id=$1 AND reply_id=$2`, userID, target.ReplyID, voteType)
	}
	if err != nil {
		return fmt.Errorf("update vote: %w", err)
	}
	return nil
}

func deleteVote(ctx context.Context, tx *sql.Tx, userID string, target VoteTarget) error {
	var err error
	if target.MessageID != "" {
		_, err = tx.ExecContext(ctx, `DELETE FROM votes WHERE user_id=$1 AND message_id=$2`, userID, target.MessageID)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM votes WHERE user_id=$1 AND reply_id=$2`, userID, target.ReplyID)
	}
	if err != nil {
		return fmt.Errorf("delete vote: %w", err)
	}
	return nil
}

// Increment/decrement statements per (table, counter) pair. Decrements refuse
// to cross zero; a no-op decrement means the ledger and counter are out of
// sync, which is logged rather than propagated.
const (
	incMessageUp   = `UPDATE messages SET upvotes = upvotes + 1 WHERE id=$1`
	incMessageDown = `UPDATE messages SET downvotes = downvotes + 1 WHERE id=$1`
	decMessageUp   = `UPDATE messages SET upvotes = upvotes - 1 WHERE id=$1 AND upvotes > 0`
	decMessageDown = `UPDATE messages SET downvotes = downvotes - 1 WHERE id=$1 AND downvotes > 0`
	incReplyUp     = `UPDATE replies SET upvotes = upvotes + 1 WHERE id=$1`
	incReplyDown   = `UPDATE replies SET downvotes = downvotes + 1 WHERE id=$1`
	decReplyUp     = `UPDATE replies SET upvotes = upvotes - 1 WHERE id=$1 AND upvotes > 0`
	decReplyDown   = `UPDATE replies SET downvotes = downvotes - 1 WHERE id=$1 AND downvotes > 0`
)

func adjustCounter(ctx context.Context, tx *sql.Tx, target VoteTarget, voteType VoteType, delta int) error {
	var query, targetID string
	switch {
	case target.MessageID != "" && voteType == VoteUp:
		targetID = target.MessageID
		if delta > 0 {
			query = incMessageUp
		} else {
			query = decMessageUp
		}
	case target.MessageID != "":
		targetID = target.MessageID
		if delta > 0 {
			query = incMessageDown
		} else {
			query = decMessageDown
		}
	case voteType == VoteUp:
		targetID = target.ReplyID
		if delta > 0 {
			query = incReplyUp
		} else {
			query = decReplyUp
		}
	default:
		targetID = target.ReplyID
		if delta > 0 {
			query = incReplyDown
		} else {
			query = decReplyDown
		}
	}

	result, err := tx.ExecContext(ctx, query, targetID)
	if err != nil {
		return fmt.Errorf("adjust %s counter: %w", voteType, err)
	}
	if delta < 0 {
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("adjust counter rows: %w", err)
		}
		if affected == 0 {
			log.Printf("vote counter desync: %s decrement on zero counter (message=%q reply=%q)", voteType, target.MessageID, target.ReplyID)
		}
	}
	return nil
}
