package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"codeconnect/api/internal/util"
)

// openTestStore connects to the database named by TEST_DATABASE_URL, applies
// migrations, and seeds one channel with one message. All integration tests
// skip when no database is configured.
func openTestStore(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewPostgresStore(db)

	authorID := seedUser(t, store)
	channelID := util.NewID("ch")
	if err := store.InsertChannel(ctx, Channel{ID: channelID, Name: "integration", CreatedBy: authorID}); err != nil {
		t.Fatalf("insert channel: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), `DELETE FROM channels WHERE id=$1`, channelID)
	})

	messageID := util.NewID("msg")
	err = store.InsertMessage(ctx, Message{
		ID: messageID, ChannelID: channelID, AuthorID: authorID,
		AuthorName: "integration", Title: "vote target", Content: "body",
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return store, messageID
}

func seedUser(t *testing.T, store *PostgresStore) string {
	t.Helper()
	userID := util.NewID("usr")
	err := store.CreateUser(context.Background(), User{
		ID:           userID,
		Username:     userID, // unique per run
		PasswordHash: "x",
		DisplayName:  "integration",
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.db.ExecContext(context.Background(), `DELETE FROM users WHERE id=$1`, userID)
	})
	return userID
}

func messageCounts(t *testing.T, store *PostgresStore, messageID string) (up, down int) {
	t.Helper()
	message, err := store.GetMessage(context.Background(), messageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	return message.Upvotes, message.Downvotes
}

func TestApplyVoteConcurrentUpvotes(t *testing.T) {
	store, messageID := openTestStore(t)
	ctx := context.Background()

	const voters = 16
	userIDs := make([]string, voters)
	for i := range userIDs {
		userIDs[i] = seedUser(t, store)
	}

	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			result, err := store.ApplyVote(ctx, userID, MessageTarget(messageID), VoteUp)
			if err != nil {
				errs <- err
				return
			}
			if result != VoteAdded {
				errs <- fmt.Errorf("result = %s, want %s", result, VoteAdded)
			}
		}(userID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent vote: %v", err)
	}

	up, down := messageCounts(t, store, messageID)
	if up != voters || down != 0 {
		t.Fatalf("counts = %d/%d, want %d/0", up, down, voters)
	}
}

func TestApplyVoteToggleSequence(t *testing.T) {
	store, messageID := openTestStore(t)
	ctx := context.Background()
	userID := seedUser(t, store)
	target := MessageTarget(messageID)

	steps := []struct {
		vote       VoteType
		want       VoteResult
		wantUp     int
		wantDown   int
		wantStatus VoteType
	}{
		{VoteUp, VoteAdded, 1, 0, VoteUp},
		{VoteUp, VoteRemoved, 0, 0, ""},
		{VoteDown, VoteAdded, 0, 1, VoteDown},
		{VoteUp, VoteChanged, 1, 0, VoteUp},
		{VoteDown, VoteChanged, 0, 1, VoteDown},
		{VoteDown, VoteRemoved, 0, 0, ""},
	}
	for i, step := range steps {
		result, err := store.ApplyVote(ctx, userID, target, step.vote)
		if err != nil {
			t.Fatalf("step %d: ApplyVote(%s) error = %v", i, step.vote, err)
		}
		if result != step.want {
			t.Fatalf("step %d: result = %s, want %s", i, result, step.want)
		}
		up, down := messageCounts(t, store, messageID)
		if up != step.wantUp || down != step.wantDown {
			t.Fatalf("step %d: counts = %d/%d, want %d/%d", i, up, down, step.wantUp, step.wantDown)
		}
		status, err := store.VoteStatus(ctx, userID, target)
		if err != nil {
			t.Fatalf("step %d: VoteStatus error = %v", i, err)
		}
		if status != step.wantStatus {
			t.Fatalf("step %d: status = %q, want %q", i, status, step.wantStatus)
		}
	}
}

func TestApplyVoteMissingTarget(t *testing.T) {
	store, _ := openTestStore(t)
	userID := seedUser(t, store)

	_, err := store.ApplyVote(context.Background(), userID, MessageTarget("msg_missing"), VoteUp)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestDeleteChannelCascades(t *testing.T) {
	store, messageID := openTestStore(t)
	ctx := context.Background()
	authorID := seedUser(t, store)

	message, err := store.GetMessage(ctx, messageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}

	rootReply := Reply{ID: util.NewID("rp"), MessageID: messageID, AuthorID: authorID, AuthorName: "integration", Content: "root"}
	if err := store.InsertReply(ctx, rootReply); err != nil {
		t.Fatalf("insert root reply: %v", err)
	}
	nested := Reply{ID: util.NewID("rp"), MessageID: messageID, ParentReplyID: rootReply.ID, AuthorID: authorID, AuthorName: "integration", Content: "nested"}
	if err := store.InsertReply(ctx, nested); err != nil {
		t.Fatalf("insert nested reply: %v", err)
	}

	deleted, err := store.DeleteChannel(ctx, message.ChannelID)
	if err != nil {
		t.Fatalf("delete channel: %v", err)
	}
	if !deleted {
		t.Fatal("expected channel to be deleted")
	}

	if _, err := store.GetMessage(ctx, messageID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("message error = %v, want sql.ErrNoRows", err)
	}
	for _, replyID := range []string{rootReply.ID, nested.ID} {
		if _, err := store.GetReply(ctx, replyID); !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("reply %s error = %v, want sql.ErrNoRows", replyID, err)
		}
	}
}

func TestReplyParentMustShareMessage(t *testing.T) {
	store, messageID := openTestStore(t)
	ctx := context.Background()
	authorID := seedUser(t, store)

	otherChannel := util.NewID("ch")
	if err := store.InsertChannel(ctx, Channel{ID: otherChannel, Name: "other", CreatedBy: authorID}); err != nil {
		t.Fatalf("insert channel: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.db.ExecContext(context.Background(), `DELETE FROM channels WHERE id=$1`, otherChannel)
	})
	otherMessage := util.NewID("msg")
	err := store.InsertMessage(ctx, Message{
		ID: otherMessage, ChannelID: otherChannel, AuthorID: authorID,
		AuthorName: "integration", Title: "elsewhere", Content: "body",
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	foreignReply := Reply{ID: util.NewID("rp"), MessageID: otherMessage, AuthorID: authorID, AuthorName: "integration", Content: "parent"}
	if err := store.InsertReply(ctx, foreignReply); err != nil {
		t.Fatalf("insert reply: %v", err)
	}

	err = store.InsertReply(ctx, Reply{
		ID: util.NewID("rp"), MessageID: messageID, ParentReplyID: foreignReply.ID,
		AuthorID: authorID, AuthorName: "integration", Content: "child",
	})
	if !errors.Is(err, ErrParentMismatch) {
		t.Fatalf("error = %v, want ErrParentMismatch", err)
	}
}
