package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"codeconnect/api/internal/authpw"
	"codeconnect/api/internal/config"
	"codeconnect/api/internal/search"
	"codeconnect/api/internal/store"
)

type fakeStore struct {
	users     map[string]store.User
	userIndex map[string]string
	refresh   map[string]string
	revoked   map[string]struct{}

	getChannelFn          func(context.Context, string) (store.Channel, error)
	insertChannelFn       func(context.Context, store.Channel) error
	deleteChannelFn       func(context.Context, string) (bool, error)
	joinChannelFn         func(context.Context, string, string) (bool, error)
	leaveChannelFn        func(context.Context, string, string) (bool, error)
	listChannelMessagesFn func(context.Context, string) ([]store.Message, error)
	getMessageFn          func(context.Context, string) (store.Message, error)
	insertMessageFn       func(context.Context, store.Message) error
	deleteMessageFn       func(context.Context, string) (bool, error)
	getReplyFn            func(context.Context, string) (store.Reply, error)
	insertReplyFn         func(context.Context, store.Reply) error
	deleteReplyFn         func(context.Context, string) (bool, error)
	listMessageRepliesFn  func(context.Context, string) ([]store.Reply, error)
	applyVoteFn           func(context.Context, string, store.VoteTarget, store.VoteType) (store.VoteResult, error)
	voteStatusFn          func(context.Context, string, store.VoteTarget) (store.VoteType, error)
	addBookmarkFn         func(context.Context, string, string) (bool, error)
	removeBookmarkFn      func(context.Context, string, string) (bool, error)
	listBookmarksFn       func(context.Context, string) ([]store.Bookmark, error)
	isBookmarkedFn        func(context.Context, string, string) (bool, error)
	listUsersFn           func(context.Context) ([]store.User, error)
	deleteUserFn          func(context.Context, string) (bool, error)
	setAdminFn            func(context.Context, string, bool) (bool, error)
	getUserAnalyticsFn    func(context.Context, string) (store.UserAnalytics, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]store.User),
		userIndex: make(map[string]string),
		refresh:   make(map[string]string),
		revoked:   make(map[string]struct{}),
	}
}

func (f *fakeStore) InsertChannel(ctx context.Context, channel store.Channel) error {
	if f.insertChannelFn != nil {
		return f.insertChannelFn(ctx, channel)
	}
	return nil
}
func (f *fakeStore) ListChannels(context.Context) ([]store.Channel, error) { return nil, nil }
func (f *fakeStore) GetChannel(ctx context.Context, channelID string) (store.Channel, error) {
	if f.getChannelFn != nil {
		return f.getChannelFn(ctx, channelID)
	}
	return store.Channel{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteChannel(ctx context.Context, channelID string) (bool, error) {
	if f.deleteChannelFn != nil {
		return f.deleteChannelFn(ctx, channelID)
	}
	return false, nil
}
func (f *fakeStore) JoinChannel(ctx context.Context, channelID, userID string) (bool, error) {
	if f.joinChannelFn != nil {
		return f.joinChannelFn(ctx, channelID, userID)
	}
	return true, nil
}
func (f *fakeStore) LeaveChannel(ctx context.Context, channelID, userID string) (bool, error) {
	if f.leaveChannelFn != nil {
		return f.leaveChannelFn(ctx, channelID, userID)
	}
	return true, nil
}
func (f *fakeStore) InsertMessage(ctx context.Context, message store.Message) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, message)
	}
	return nil
}
func (f *fakeStore) ListChannelMessages(ctx context.Context, channelID string) ([]store.Message, error) {
	if f.listChannelMessagesFn != nil {
		return f.listChannelMessagesFn(ctx, channelID)
	}
	return nil, nil
}
func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, messageID)
	}
	return store.Message{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteMessage(ctx context.Context, messageID string) (bool, error) {
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return true, nil
}
func (f *fakeStore) InsertReply(ctx context.Context, reply store.Reply) error {
	if f.insertReplyFn != nil {
		return f.insertReplyFn(ctx, reply)
	}
	return nil
}
func (f *fakeStore) ListMessageReplies(ctx context.Context, messageID string) ([]store.Reply, error) {
	if f.listMessageRepliesFn != nil {
		return f.listMessageRepliesFn(ctx, messageID)
	}
	return nil, nil
}
func (f *fakeStore) GetReply(ctx context.Context, replyID string) (store.Reply, error) {
	if f.getReplyFn != nil {
		return f.getReplyFn(ctx, replyID)
	}
	return store.Reply{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteReply(ctx context.Context, replyID string) (bool, error) {
	if f.deleteReplyFn != nil {
		return f.deleteReplyFn(ctx, replyID)
	}
	return true, nil
}
func (f *fakeStore) ApplyVote(ctx context.Context, userID string, target store.VoteTarget, voteType store.VoteType) (store.VoteResult, error) {
	if f.applyVoteFn != nil {
		return f.applyVoteFn(ctx, userID, target, voteType)
	}
	return store.VoteAdded, nil
}
func (f *fakeStore) VoteStatus(ctx context.Context, userID string, target store.VoteTarget) (store.VoteType, error) {
	if f.voteStatusFn != nil {
		return f.voteStatusFn(ctx, userID, target)
	}
	return "", nil
}
func (f *fakeStore) AddBookmark(ctx context.Context, userID, messageID string) (bool, error) {
	if f.addBookmarkFn != nil {
		return f.addBookmarkFn(ctx, userID, messageID)
	}
	return true, nil
}
func (f *fakeStore) RemoveBookmark(ctx context.Context, userID, messageID string) (bool, error) {
	if f.removeBookmarkFn != nil {
		return f.removeBookmarkFn(ctx, userID, messageID)
	}
	return true, nil
}
func (f *fakeStore) ListBookmarks(ctx context.Context, userID string) ([]store.Bookmark, error) {
	if f.listBookmarksFn != nil {
		return f.listBookmarksFn(ctx, userID)
	}
	return nil, nil
}
func (f *fakeStore) IsBookmarked(ctx context.Context, userID, messageID string) (bool, error) {
	if f.isBookmarkedFn != nil {
		return f.isBookmarkedFn(ctx, userID, messageID)
	}
	return false, nil
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.users[user.ID] = user
	f.userIndex[user.Username] = user.ID
	return nil
}
func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if userID, ok := f.userIndex[username]; ok {
		return f.users[userID], nil
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if user, ok := f.users[userID]; ok {
		return user, nil
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ListUsers(ctx context.Context) ([]store.User, error) {
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	if f.deleteUserFn != nil {
		return f.deleteUserFn(ctx, userID)
	}
	_, ok := f.users[userID]
	delete(f.users, userID)
	return ok, nil
}
func (f *fakeStore) SetAdmin(ctx context.Context, userID string, isAdmin bool) (bool, error) {
	if f.setAdminFn != nil {
		return f.setAdminFn(ctx, userID, isAdmin)
	}
	user, ok := f.users[userID]
	if !ok {
		return false, nil
	}
	user.IsAdmin = isAdmin
	f.users[userID] = user
	return true, nil
}
func (f *fakeStore) TouchLastLogin(context.Context, string) error { return nil }
func (f *fakeStore) GetUserAnalytics(ctx context.Context, userID string) (store.UserAnalytics, error) {
	if f.getUserAnalyticsFn != nil {
		return f.getUserAnalyticsFn(ctx, userID)
	}
	return store.UserAnalytics{}, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.refresh[tokenHash] = userID
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	if userID, ok := f.refresh[tokenHash]; ok {
		return userID, nil
	}
	return "", sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	delete(f.refresh, tokenHash)
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.revoked[jti] = struct{}{}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok := f.revoked[jti]
	return ok, nil
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret:   "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		AdminUsername: "admin",
		AdminPassword: "admin12345",
	}
}

func newTestService(fake *fakeStore) *Service {
	return &Service{
		cfg:      testConfig(),
		store:    fake,
		sessions: fake,
		authpw:   authpw.NewService(fake),
	}
}

func wantDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("got %d %s, want %d %s", domainErr.Status, domainErr.Code, status, code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	svc := newTestService(fake)

	session, err := svc.Register(ctx, "alice", "password123", "Alice")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected tokens in session")
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != session.UserID || parsed.UserName != "Alice" {
		t.Fatalf("unexpected session %+v", parsed)
	}

	refreshed, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if refreshed.UserID != session.UserID {
		t.Fatalf("refreshed session user = %s, want %s", refreshed.UserID, session.UserID)
	}

	// The presented refresh token is single use
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatal("expected reused refresh token to be rejected")
	}

	if err := svc.Logout(ctx, refreshed, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, refreshed.Token); err == nil {
		t.Fatal("expected revoked access token to be rejected")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())

	if _, err := svc.Register(ctx, "alice", "password123", ""); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	_, err := svc.Register(ctx, "alice", "password123", "")
	wantDomainError(t, err, http.StatusConflict, "USERNAME_EXISTS")
}

func TestLoginInvalidCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())

	_, err := svc.Login(ctx, "ghost", "password123")
	wantDomainError(t, err, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestVoteMessageValidatesType(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())

	_, err := svc.VoteMessage(ctx, Session{UserID: "usr_1"}, "msg_1", "sideways")
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestVoteMessageReturnsCountsAndState(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.applyVoteFn = func(ctx context.Context, userID string, target store.VoteTarget, voteType store.VoteType) (store.VoteResult, error) {
		if target.MessageID != "msg_1" || voteType != store.VoteUp {
			t.Fatalf("unexpected vote call %+v %s", target, voteType)
		}
		return store.VoteAdded, nil
	}
	fake.getMessageFn = func(context.Context, string) (store.Message, error) {
		return store.Message{ID: "msg_1", Upvotes: 5, Downvotes: 1}, nil
	}
	fake.voteStatusFn = func(context.Context, string, store.VoteTarget) (store.VoteType, error) {
		return store.VoteUp, nil
	}
	svc := newTestService(fake)

	payload, err := svc.VoteMessage(ctx, Session{UserID: "usr_1"}, "msg_1", "upvote")
	if err != nil {
		t.Fatalf("VoteMessage() error = %v", err)
	}
	if payload["result"] != "added" || payload["upvotes"] != 5 || payload["userVote"] != "upvote" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestVoteMissingTargetIs404(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.applyVoteFn = func(context.Context, string, store.VoteTarget, store.VoteType) (store.VoteResult, error) {
		return "", sql.ErrNoRows
	}
	svc := newTestService(fake)

	_, err := svc.VoteMessage(ctx, Session{UserID: "usr_1"}, "msg_gone", "upvote")
	status, code, _, _ := mapError(err)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Fatalf("got %d %s, want 404 NOT_FOUND", status, code)
	}
}

func TestCreateReplyRejectsParentMismatch(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.getMessageFn = func(context.Context, string) (store.Message, error) {
		return store.Message{ID: "msg_1", ChannelID: "ch_1"}, nil
	}
	fake.insertReplyFn = func(context.Context, store.Reply) error {
		return store.ErrParentMismatch
	}
	svc := newTestService(fake)

	_, err := svc.CreateReply(ctx, Session{UserID: "usr_1", UserName: "alice"}, "msg_1", CreateReplyInput{
		Content:       "hello",
		ParentReplyID: "rp_other",
	})
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestDeleteMessageAuthorization(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.getMessageFn = func(context.Context, string) (store.Message, error) {
		return store.Message{ID: "msg_1", AuthorID: "usr_author"}, nil
	}
	svc := newTestService(fake)

	err := svc.DeleteMessage(ctx, Session{UserID: "usr_other"}, "msg_1")
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	if err := svc.DeleteMessage(ctx, Session{UserID: "usr_author"}, "msg_1"); err != nil {
		t.Fatalf("author delete error = %v", err)
	}
	if err := svc.DeleteMessage(ctx, Session{UserID: "usr_other", IsAdmin: true}, "msg_1"); err != nil {
		t.Fatalf("admin delete error = %v", err)
	}
}

func TestAddBookmarkConflict(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.getMessageFn = func(context.Context, string) (store.Message, error) {
		return store.Message{ID: "msg_1"}, nil
	}
	fake.addBookmarkFn = func(context.Context, string, string) (bool, error) {
		return false, nil
	}
	svc := newTestService(fake)

	err := svc.AddBookmark(ctx, Session{UserID: "usr_1"}, "msg_1")
	wantDomainError(t, err, http.StatusConflict, "ALREADY_BOOKMARKED")
}

func TestRemoveBookmarkMissing(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.removeBookmarkFn = func(context.Context, string, string) (bool, error) {
		return false, nil
	}
	svc := newTestService(fake)

	err := svc.RemoveBookmark(ctx, Session{UserID: "usr_1"}, "msg_1")
	wantDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestJoinChannelAlreadyMember(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.getChannelFn = func(context.Context, string) (store.Channel, error) {
		return store.Channel{ID: "ch_1", Name: "general"}, nil
	}
	fake.joinChannelFn = func(context.Context, string, string) (bool, error) {
		return false, nil
	}
	svc := newTestService(fake)

	_, err := svc.JoinChannel(ctx, Session{UserID: "usr_1"}, "ch_1")
	wantDomainError(t, err, http.StatusConflict, "ALREADY_MEMBER")
}

func TestCreateChannelValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())

	_, err := svc.CreateChannel(ctx, Session{UserID: "usr_1"}, "   ", "")
	wantDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestDeleteChannelRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore())

	err := svc.DeleteChannel(ctx, Session{UserID: "usr_1"}, "ch_1")
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestDeleteChannelCollectsReplyIDs(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.getChannelFn = func(context.Context, string) (store.Channel, error) {
		return store.Channel{ID: "ch_1", Name: "general"}, nil
	}
	fake.listChannelMessagesFn = func(context.Context, string) ([]store.Message, error) {
		return []store.Message{{ID: "msg_1"}, {ID: "msg_2"}}, nil
	}
	repliesFetched := make(map[string]bool)
	channelDeleted := false
	fake.listMessageRepliesFn = func(_ context.Context, messageID string) ([]store.Reply, error) {
		if channelDeleted {
			t.Errorf("replies for %s fetched after the cascade removed them", messageID)
		}
		repliesFetched[messageID] = true
		return []store.Reply{{ID: "rpl_" + messageID, MessageID: messageID}}, nil
	}
	fake.deleteChannelFn = func(context.Context, string) (bool, error) {
		channelDeleted = true
		return true, nil
	}

	svc := newTestService(fake)
	svc.search = search.NewService(nil, nil, nil)

	if err := svc.DeleteChannel(ctx, Session{UserID: "usr_admin", IsAdmin: true}, "ch_1"); err != nil {
		t.Fatalf("DeleteChannel error = %v", err)
	}
	if !repliesFetched["msg_1"] || !repliesFetched["msg_2"] {
		t.Fatalf("reply IDs not collected for every message: %v", repliesFetched)
	}
}

func TestUserAnalyticsAccess(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	registered := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fake.users["usr_1"] = store.User{ID: "usr_1", Username: "alice", DisplayName: "Alice", CreatedAt: registered}
	fake.getUserAnalyticsFn = func(context.Context, string) (store.UserAnalytics, error) {
		return store.UserAnalytics{TotalMessages: 3, TotalReplies: 7, ActiveChannels: 1,
			Channels: []store.ChannelActivity{{ID: "ch_1", Name: "general", MessageCount: 3}}}, nil
	}
	svc := newTestService(fake)

	_, err := svc.UserAnalytics(ctx, Session{UserID: "usr_other"}, "usr_1")
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	payload, err := svc.UserAnalytics(ctx, Session{UserID: "usr_1"}, "usr_1")
	if err != nil {
		t.Fatalf("self analytics error = %v", err)
	}
	user, ok := payload["user"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing user object: %v", payload)
	}
	if user["username"] != "alice" || user["displayName"] != "Alice" || user["registrationDate"] != registered {
		t.Fatalf("unexpected user section %v", user)
	}
	stats, ok := payload["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing statistics object: %v", payload)
	}
	if stats["totalMessages"] != 3 || stats["totalReplies"] != 7 || stats["totalPosts"] != 10 {
		t.Fatalf("unexpected statistics section %v", stats)
	}

	if _, err := svc.UserAnalytics(ctx, Session{UserID: "usr_admin", IsAdmin: true}, "usr_1"); err != nil {
		t.Fatalf("admin analytics error = %v", err)
	}
}

func TestAdminGuards(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	fake.users["usr_admin"] = store.User{ID: "usr_admin", Username: "admin", IsAdmin: true}
	fake.users["usr_member"] = store.User{ID: "usr_member", Username: "bob"}
	svc := newTestService(fake)

	admin := Session{UserID: "usr_admin", IsAdmin: true}
	member := Session{UserID: "usr_member"}

	_, err := svc.ListUsers(ctx, member)
	wantDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	err = svc.DeleteUser(ctx, admin, "usr_admin")
	wantDomainError(t, err, http.StatusConflict, "SELF_DELETE")

	_, err = svc.ToggleAdmin(ctx, admin, "usr_admin")
	wantDomainError(t, err, http.StatusConflict, "SELF_DEMOTE")

	payload, err := svc.ToggleAdmin(ctx, admin, "usr_member")
	if err != nil {
		t.Fatalf("ToggleAdmin() error = %v", err)
	}
	if payload["isAdmin"] != true {
		t.Fatalf("expected usr_member promoted, got %v", payload)
	}

	if err := svc.DeleteUser(ctx, admin, "usr_member"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
}

func TestBootstrapSeedsAdmin(t *testing.T) {
	ctx := context.Background()
	fake := newFakeStore()
	svc := newTestService(fake)

	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	admin, err := fake.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("expected admin user to be seeded: %v", err)
	}
	if !admin.IsAdmin {
		t.Fatal("expected seeded admin to have admin flag")
	}

	// Second bootstrap is a no-op
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap() second run error = %v", err)
	}
	if len(fake.userIndex) != 1 {
		t.Fatalf("expected 1 user after repeat bootstrap, got %d", len(fake.userIndex))
	}
}
