package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"codeconnect/api/internal/auth"
	"codeconnect/api/internal/authpw"
	"codeconnect/api/internal/config"
	"codeconnect/api/internal/metrics"
	"codeconnect/api/internal/search"
	"codeconnect/api/internal/store"
	"codeconnect/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	IsAdmin      bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	InsertChannel(context.Context, store.Channel) error
	ListChannels(context.Context) ([]store.Channel, error)
	GetChannel(context.Context, string) (store.Channel, error)
	DeleteChannel(context.Context, string) (bool, error)
	JoinChannel(context.Context, string, string) (bool, error)
	LeaveChannel(context.Context, string, string) (bool, error)
	InsertMessage(context.Context, store.Message) error
	ListChannelMessages(context.Context, string) ([]store.Message, error)
	GetMessage(context.Context, string) (store.Message, error)
	DeleteMessage(context.Context, string) (bool, error)
	InsertReply(context.Context, store.Reply) error
	ListMessageReplies(context.Context, string) ([]store.Reply, error)
	GetReply(context.Context, string) (store.Reply, error)
	DeleteReply(context.Context, string) (bool, error)
	ApplyVote(context.Context, string, store.VoteTarget, store.VoteType) (store.VoteResult, error)
	VoteStatus(context.Context, string, store.VoteTarget) (store.VoteType, error)
	AddBookmark(context.Context, string, string) (bool, error)
	RemoveBookmark(context.Context, string, string) (bool, error)
	ListBookmarks(context.Context, string) ([]store.Bookmark, error)
	IsBookmarked(context.Context, string, string) (bool, error)
	CreateUser(context.Context, store.User) error
	GetUserByUsername(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	DeleteUser(context.Context, string) (bool, error)
	SetAdmin(context.Context, string, bool) (bool, error)
	TouchLastLogin(context.Context, string) error
	GetUserAnalytics(context.Context, string) (store.UserAnalytics, error)
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (string, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	search   *search.Service
	metrics  *metrics.Metrics
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, authSvc *authpw.Service, searchSvc *search.Service, m *metrics.Metrics) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authSvc,
		search:   searchSvc,
		metrics:  m,
	}
}

// Bootstrap seeds the admin account and warms the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if _, err := s.store.GetUserByUsername(ctx, s.cfg.AdminUsername); err != nil {
		hash, err := authpw.HashPassword(s.cfg.AdminPassword)
		if err != nil {
			return err
		}
		if err := s.store.CreateUser(ctx, store.User{
			ID:           util.NewID("usr"),
			Username:     s.cfg.AdminUsername,
			PasswordHash: hash,
			DisplayName:  s.cfg.AdminUsername,
			IsAdmin:      true,
		}); err != nil {
			return err
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromSQL(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) Register(ctx context.Context, username, password, displayName string) (Session, error) {
	user, err := s.authpw.Register(ctx, authpw.RegisterRequest{
		Username:    username,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrUsernameTaken):
			return Session{}, domainError(http.StatusConflict, "USERNAME_EXISTS", "Username already registered", nil)
		case errors.Is(err, authpw.ErrInvalidInput):
			return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.authpw.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrInvalidInput) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	// Rotate: the presented token is single use
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Admin: user.IsAdmin,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		IsAdmin:      user.IsAdmin,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		IsAdmin:   user.IsAdmin,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Channels

func (s *Service) CreateChannel(ctx context.Context, session Session, name, description string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if len(name) > 100 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name must be at most 100 characters", nil)
	}

	channel := store.Channel{
		ID:          util.NewID("ch"),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertChannel(ctx, channel); err != nil {
		return nil, err
	}
	created, err := s.store.GetChannel(ctx, channel.ID)
	if err != nil {
		return nil, err
	}
	return channelPayload(created), nil
}

func (s *Service) ListChannels(ctx context.Context) ([]map[string]any, error) {
	channels, err := s.store.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(channels))
	for _, channel := range channels {
		items = append(items, channelPayload(channel))
	}
	return items, nil
}

func (s *Service) GetChannel(ctx context.Context, channelID string) (map[string]any, error) {
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return channelPayload(channel), nil
}

func (s *Service) DeleteChannel(ctx context.Context, session Session, channelID string) error {
	if !session.IsAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can delete channels", nil)
	}
	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return err
	}
	messages, err := s.store.ListChannelMessages(ctx, channel.ID)
	if err != nil {
		return err
	}
	// Collect reply IDs before the cascade removes the rows, so their index
	// documents can be purged along with the messages'.
	var replyIDs []string
	for _, message := range messages {
		replies, err := s.store.ListMessageReplies(ctx, message.ID)
		if err != nil {
			return err
		}
		for _, reply := range replies {
			replyIDs = append(replyIDs, reply.ID)
		}
	}
	deleted, err := s.store.DeleteChannel(ctx, channel.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Channel not found", nil)
	}
	if s.search != nil {
		for _, message := range messages {
			s.search.DeleteMessage(message.ID)
		}
		for _, id := range replyIDs {
			s.search.DeleteReply(id)
		}
	}
	return nil
}

func (s *Service) JoinChannel(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	joined, err := s.store.JoinChannel(ctx, channelID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !joined {
		return nil, domainError(http.StatusConflict, "ALREADY_MEMBER", "Already a member of this channel", nil)
	}
	return s.GetChannel(ctx, channelID)
}

func (s *Service) LeaveChannel(ctx context.Context, session Session, channelID string) (map[string]any, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	left, err := s.store.LeaveChannel(ctx, channelID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !left {
		return nil, domainError(http.StatusConflict, "NOT_MEMBER", "Not a member of this channel", nil)
	}
	return s.GetChannel(ctx, channelID)
}

// Messages

type CreateMessageInput struct {
	Title    string
	Content  string
	ImageURL string
}

func (s *Service) CreateMessage(ctx context.Context, session Session, channelID string, input CreateMessageInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	content := strings.TrimSpace(input.Content)
	if title == "" || content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title and content are required", nil)
	}
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}

	message := store.Message{
		ID:         util.NewID("msg"),
		ChannelID:  channelID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Title:      title,
		Content:    content,
		ImageURL:   input.ImageURL,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return nil, err
	}
	created, err := s.store.GetMessage(ctx, message.ID)
	if err != nil {
		return nil, err
	}
	s.indexMessage(created)
	return messagePayload(created, nil), nil
}

func (s *Service) ChannelMessages(ctx context.Context, channelID string) ([]map[string]any, error) {
	if _, err := s.store.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	messages, err := s.store.ListChannelMessages(ctx, channelID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		replies, err := s.store.ListMessageReplies(ctx, message.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, messagePayload(message, BuildReplyForest(replies)))
	}
	return items, nil
}

func (s *Service) GetMessage(ctx context.Context, messageID string) (map[string]any, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListMessageReplies(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return messagePayload(message, BuildReplyForest(replies)), nil
}

func (s *Service) DeleteMessage(ctx context.Context, session Session, messageID string) error {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if message.AuthorID != session.UserID && !session.IsAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or an admin can delete a message", nil)
	}
	// Collect reply IDs before the cascade removes them
	replies, err := s.store.ListMessageReplies(ctx, messageID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Message not found", nil)
	}
	if s.search != nil {
		s.search.DeleteMessage(messageID)
		for _, reply := range replies {
			s.search.DeleteReply(reply.ID)
		}
	}
	return nil
}

// Replies

type CreateReplyInput struct {
	Content       string
	ParentReplyID string
	ImageURL      string
}

func (s *Service) CreateReply(ctx context.Context, session Session, messageID string, input CreateReplyInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	reply := store.Reply{
		ID:            util.NewID("rp"),
		MessageID:     message.ID,
		ParentReplyID: strings.TrimSpace(input.ParentReplyID),
		AuthorID:      session.UserID,
		AuthorName:    session.UserName,
		Content:       content,
		ImageURL:      input.ImageURL,
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		if errors.Is(err, store.ErrParentMismatch) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parentReplyId must name an existing reply on the same message", nil)
		}
		return nil, err
	}
	created, err := s.store.GetReply(ctx, reply.ID)
	if err != nil {
		return nil, err
	}
	s.indexReply(message.ChannelID, created)
	return replyPayload(created), nil
}

func (s *Service) MessageReplies(ctx context.Context, messageID string) ([]map[string]any, error) {
	if _, err := s.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	replies, err := s.store.ListMessageReplies(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return replyForestPayload(BuildReplyForest(replies)), nil
}

func (s *Service) DeleteReply(ctx context.Context, session Session, replyID string) error {
	reply, err := s.store.GetReply(ctx, replyID)
	if err != nil {
		return err
	}
	if reply.AuthorID != session.UserID && !session.IsAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or an admin can delete a reply", nil)
	}
	deleted, err := s.store.DeleteReply(ctx, replyID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Reply not found", nil)
	}
	if s.search != nil {
		s.search.DeleteReply(replyID)
	}
	return nil
}

// Votes

func (s *Service) VoteMessage(ctx context.Context, session Session, messageID, voteType string) (map[string]any, error) {
	vt, err := parseVoteType(voteType)
	if err != nil {
		return nil, err
	}
	result, err := s.store.ApplyVote(ctx, session.UserID, store.MessageTarget(messageID), vt)
	if err != nil {
		return nil, err
	}
	s.countVote(result)
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	userVote, err := s.store.VoteStatus(ctx, session.UserID, store.MessageTarget(messageID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result":    string(result),
		"upvotes":   message.Upvotes,
		"downvotes": message.Downvotes,
		"userVote":  nullableString(string(userVote)),
	}, nil
}

func (s *Service) VoteReply(ctx context.Context, session Session, replyID, voteType string) (map[string]any, error) {
	vt, err := parseVoteType(voteType)
	if err != nil {
		return nil, err
	}
	result, err := s.store.ApplyVote(ctx, session.UserID, store.ReplyTarget(replyID), vt)
	if err != nil {
		return nil, err
	}
	s.countVote(result)
	reply, err := s.store.GetReply(ctx, replyID)
	if err != nil {
		return nil, err
	}
	userVote, err := s.store.VoteStatus(ctx, session.UserID, store.ReplyTarget(replyID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"result":    string(result),
		"upvotes":   reply.Upvotes,
		"downvotes": reply.Downvotes,
		"userVote":  nullableString(string(userVote)),
	}, nil
}

func (s *Service) MessageVoteStatus(ctx context.Context, session Session, messageID string) (map[string]any, error) {
	if _, err := s.store.GetMessage(ctx, messageID); err != nil {
		return nil, err
	}
	userVote, err := s.store.VoteStatus(ctx, session.UserID, store.MessageTarget(messageID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"voteType": nullableString(string(userVote))}, nil
}

func (s *Service) ReplyVoteStatus(ctx context.Context, session Session, replyID string) (map[string]any, error) {
	if _, err := s.store.GetReply(ctx, replyID); err != nil {
		return nil, err
	}
	userVote, err := s.store.VoteStatus(ctx, session.UserID, store.ReplyTarget(replyID))
	if err != nil {
		return nil, err
	}
	return map[string]any{"voteType": nullableString(string(userVote))}, nil
}

func parseVoteType(voteType string) (store.VoteType, error) {
	switch store.VoteType(voteType) {
	case store.VoteUp:
		return store.VoteUp, nil
	case store.VoteDown:
		return store.VoteDown, nil
	}
	return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "voteType must be upvote or downvote", nil)
}

func (s *Service) countVote(result store.VoteResult) {
	if s.metrics != nil {
		s.metrics.VoteTransitions.WithLabelValues(string(result)).Inc()
	}
}

// Bookmarks

func (s *Service) AddBookmark(ctx context.Context, session Session, messageID string) error {
	if _, err := s.store.GetMessage(ctx, messageID); err != nil {
		return err
	}
	added, err := s.store.AddBookmark(ctx, session.UserID, messageID)
	if err != nil {
		return err
	}
	if !added {
		return domainError(http.StatusConflict, "ALREADY_BOOKMARKED", "Message already bookmarked", nil)
	}
	return nil
}

func (s *Service) RemoveBookmark(ctx context.Context, session Session, messageID string) error {
	removed, err := s.store.RemoveBookmark(ctx, session.UserID, messageID)
	if err != nil {
		return err
	}
	if !removed {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Bookmark not found", nil)
	}
	return nil
}

func (s *Service) ListBookmarks(ctx context.Context, session Session) ([]map[string]any, error) {
	bookmarks, err := s.store.ListBookmarks(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(bookmarks))
	for _, bookmark := range bookmarks {
		items = append(items, map[string]any{
			"messageId":    bookmark.MessageID,
			"channelId":    bookmark.ChannelID,
			"title":        bookmark.Title,
			"authorName":   bookmark.AuthorName,
			"upvotes":      bookmark.Upvotes,
			"downvotes":    bookmark.Downvotes,
			"createdAt":    bookmark.CreatedAt,
			"bookmarkedAt": bookmark.BookmarkedAt,
		})
	}
	return items, nil
}

func (s *Service) IsBookmarked(ctx context.Context, session Session, messageID string) (map[string]any, error) {
	bookmarked, err := s.store.IsBookmarked(ctx, session.UserID, messageID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bookmarked": bookmarked}, nil
}

// Search

func (s *Service) Search(ctx context.Context, text, sort string, limit, offset int) (search.Response, error) {
	if sort == "" {
		sort = search.SortRelevance
	}
	if !search.ValidSort(sort) {
		return search.Response{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sort must be one of relevance, upvotes, downvotes, date_asc, date_desc", nil)
	}
	return s.search.Search(ctx, search.Query{Text: text, Sort: sort, Limit: limit, Offset: offset}), nil
}

func (s *Service) indexMessage(message store.Message) {
	if s.search == nil {
		return
	}
	s.search.IndexMessage(search.MessageRecord{
		ID:         message.ID,
		ChannelID:  message.ChannelID,
		Title:      message.Title,
		Content:    message.Content,
		AuthorName: message.AuthorName,
		Upvotes:    message.Upvotes,
		Downvotes:  message.Downvotes,
		CreatedAt:  message.CreatedAt.Unix(),
	})
}

func (s *Service) indexReply(channelID string, reply store.Reply) {
	if s.search == nil {
		return
	}
	s.search.IndexReply(search.ReplyRecord{
		ID:         reply.ID,
		MessageID:  reply.MessageID,
		ChannelID:  channelID,
		Content:    reply.Content,
		AuthorName: reply.AuthorName,
		Upvotes:    reply.Upvotes,
		Downvotes:  reply.Downvotes,
		CreatedAt:  reply.CreatedAt.Unix(),
	})
}

// Analytics

func (s *Service) UserAnalytics(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if userID != session.UserID && !session.IsAdmin {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Cannot view another user's analytics", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	analytics, err := s.store.GetUserAnalytics(ctx, userID)
	if err != nil {
		return nil, err
	}
	channels := make([]map[string]any, 0, len(analytics.Channels))
	for _, activity := range analytics.Channels {
		channels = append(channels, map[string]any{
			"id":           activity.ID,
			"name":         activity.Name,
			"messageCount": activity.MessageCount,
		})
	}
	return map[string]any{
		"user": map[string]any{
			"id":               user.ID,
			"username":         user.Username,
			"displayName":      user.DisplayName,
			"registrationDate": user.CreatedAt,
		},
		"statistics": map[string]any{
			"totalMessages":  analytics.TotalMessages,
			"totalReplies":   analytics.TotalReplies,
			"totalPosts":     analytics.TotalMessages + analytics.TotalReplies,
			"activeChannels": analytics.ActiveChannels,
			"channels":       channels,
		},
	}, nil
}

// Admin

func (s *Service) ListUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if !session.IsAdmin {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Admin access required", nil)
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return items, nil
}

func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) error {
	if !session.IsAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Admin access required", nil)
	}
	if userID == session.UserID {
		return domainError(http.StatusConflict, "SELF_DELETE", "Admins cannot delete their own account", nil)
	}
	deleted, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}
	return nil
}

func (s *Service) ToggleAdmin(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if !session.IsAdmin {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Admin access required", nil)
	}
	if userID == session.UserID {
		return nil, domainError(http.StatusConflict, "SELF_DEMOTE", "Admins cannot change their own role", nil)
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetAdmin(ctx, userID, !user.IsAdmin); err != nil {
		return nil, err
	}
	updated, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return userPayload(updated), nil
}

// Payload helpers

func channelPayload(channel store.Channel) map[string]any {
	return map[string]any{
		"id":          channel.ID,
		"name":        channel.Name,
		"description": channel.Description,
		"memberCount": channel.MemberCount,
		"createdBy":   nullableString(channel.CreatedBy),
		"createdAt":   channel.CreatedAt,
	}
}

func messagePayload(message store.Message, forest []*ReplyNode) map[string]any {
	item := map[string]any{
		"id":         message.ID,
		"channelId":  message.ChannelID,
		"authorId":   message.AuthorID,
		"authorName": message.AuthorName,
		"title":      message.Title,
		"content":    message.Content,
		"upvotes":    message.Upvotes,
		"downvotes":  message.Downvotes,
		"createdAt":  message.CreatedAt,
	}
	if message.ImageURL != "" {
		item["imageUrl"] = message.ImageURL
	}
	if forest != nil {
		item["replies"] = replyForestPayload(forest)
	}
	return item
}

func replyPayload(reply store.Reply) map[string]any {
	item := map[string]any{
		"id":            reply.ID,
		"messageId":     reply.MessageID,
		"authorId":      reply.AuthorID,
		"authorName":    reply.AuthorName,
		"content":       reply.Content,
		"upvotes":       reply.Upvotes,
		"downvotes":     reply.Downvotes,
		"createdAt":     reply.CreatedAt,
		"parentReplyId": nullableString(reply.ParentReplyID),
	}
	if reply.ImageURL != "" {
		item["imageUrl"] = reply.ImageURL
	}
	return item
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":          user.ID,
		"username":    user.Username,
		"displayName": user.DisplayName,
		"isAdmin":     user.IsAdmin,
		"postCount":   user.PostCount,
		"lastLogin":   user.LastLogin,
		"createdAt":   user.CreatedAt,
	}
}
