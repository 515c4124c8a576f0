package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultMessage ResultType = "message"
	ResultReply   ResultType = "reply"
)

// Sort orders supported by the search endpoint.
const (
	SortRelevance = "relevance"
	SortUpvotes   = "upvotes"
	SortDownvotes = "downvotes"
	SortDateAsc   = "date_asc"
	SortDateDesc  = "date_desc"
)

// ValidSort reports whether s names a supported sort order.
func ValidSort(s string) bool {
	switch s {
	case SortRelevance, SortUpvotes, SortDownvotes, SortDateAsc, SortDateDesc:
		return true
	}
	return false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	MessageID string     `json:"messageId"`
	ChannelID string     `json:"channelId"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Upvotes   int        `json:"upvotes"`
	Downvotes int        `json:"downvotes"`
	CreatedAt int64      `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Sort   string // empty = relevance
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Sort    string   `json:"sort"`
}

// Searcher can execute a keyword search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexMessage(m MessageRecord) error
	IndexReply(r ReplyRecord) error
	DeleteMessage(id string) error
	DeleteReply(id string) error
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID         string `json:"id"`
	ChannelID  string `json:"channelId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	Upvotes    int    `json:"upvotes"`
	Downvotes  int    `json:"downvotes"`
	CreatedAt  int64  `json:"createdAt"`
}

// ReplyRecord is the data we index for a reply.
type ReplyRecord struct {
	ID         string `json:"id"`
	MessageID  string `json:"messageId"`
	ChannelID  string `json:"channelId"`
	Content    string `json:"content"`
	AuthorName string `json:"authorName"`
	Upvotes    int    `json:"upvotes"`
	Downvotes  int    `json:"downvotes"`
	CreatedAt  int64  `json:"createdAt"`
}
