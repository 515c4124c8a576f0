package store

import "time"

type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	IsAdmin      bool
	PostCount    int
	LastLogin    *time.Time
	CreatedAt    time.Time
}

type Channel struct {
	ID          string
	Name        string
	Description string
	MemberCount int
	CreatedBy   string
	CreatedAt   time.Time
}

type Message struct {
	ID         string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Title      string
	Content    string
	ImageURL   string
	Upvotes    int
	Downvotes  int
	CreatedAt  time.Time
}

type Reply struct {
	ID            string
	MessageID     string
	ParentReplyID string // empty for root replies
	AuthorID      string
	AuthorName    string
	Content       string
	ImageURL      string
	Upvotes       int
	Downvotes     int
	CreatedAt     time.Time
}

type Bookmark struct {
	MessageID    string
	ChannelID    string
	Title        string
	AuthorName   string
	Upvotes      int
	Downvotes    int
	CreatedAt    time.Time
	BookmarkedAt time.Time
}

// ChannelActivity is one channel a user has posted in, for analytics.
type ChannelActivity struct {
	ID           string
	Name         string
	MessageCount int
}

type UserAnalytics struct {
	TotalMessages  int
	TotalReplies   int
	ActiveChannels int
	Channels       []ChannelActivity
}
