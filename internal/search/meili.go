package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxMessages = "codeconnect_messages"
	idxReplies  = "codeconnect_replies"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns nil if the initial connection fails (caller should proceed without it).
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		searchable []string
		sortable   []string
	}{
		{
			uid:        idxMessages,
			primaryKey: "id",
			searchable: []string{"title", "content"},
			sortable:   []string{"upvotes", "downvotes", "createdAt"},
		},
		{
			uid:        idxReplies,
			primaryKey: "id",
			searchable: []string{"content"},
			sortable:   []string{"upvotes", "downvotes", "createdAt"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSortableAttributes(&idx.sortable); err != nil {
			log.Printf("search: update sortable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// meiliSort maps a validated sort name to Meilisearch sort expressions.
// Relevance uses the engine's default ranking, so it returns nil.
func meiliSort(sort string) []string {
	switch sort {
	case SortUpvotes:
		return []string{"upvotes:desc", "createdAt:desc"}
	case SortDownvotes:
		return []string{"downvotes:desc", "createdAt:desc"}
	case SortDateAsc:
		return []string{"createdAt:asc"}
	case SortDateDesc:
		return []string{"createdAt:desc"}
	default:
		return nil
	}
}

// Search queries both indexes and merges results.
func (m *Meili) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sort := meiliSort(q.Sort)
	var queries []*meili.SearchRequest
	for _, uid := range []string{idxMessages, idxReplies} {
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			Sort:                  sort,
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		})
	}

	resp, err := m.client.MultiSearchWithContext(ctx, &meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxMessages:
		return ResultMessage
	case idxReplies:
		return ResultReply
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.ChannelID = decodeString(hit, "channelId")
	r.Upvotes = decodeInt(hit, "upvotes")
	r.Downvotes = decodeInt(hit, "downvotes")
	r.CreatedAt = int64(decodeInt(hit, "createdAt"))

	switch rtyp {
	case ResultMessage:
		r.MessageID = r.ID
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	case ResultReply:
		r.MessageID = decodeString(hit, "messageId")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int {
	raw, ok := hit[key]
	if !ok {
		return 0
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexMessage adds or updates a message in the search index.
func (m *Meili) IndexMessage(record MessageRecord) error {
	_, err := m.client.Index(idxMessages).AddDocuments([]MessageRecord{record}, nil)
	return err
}

// IndexReply adds or updates a reply in the search index.
func (m *Meili) IndexReply(record ReplyRecord) error {
	_, err := m.client.Index(idxReplies).AddDocuments([]ReplyRecord{record}, nil)
	return err
}

// DeleteMessage removes a message from the search index.
func (m *Meili) DeleteMessage(id string) error {
	_, err := m.client.Index(idxMessages).DeleteDocument(id, nil)
	return err
}

// DeleteReply removes a reply from the search index.
func (m *Meili) DeleteReply(id string) error {
	_, err := m.client.Index(idxReplies).DeleteDocument(id, nil)
	return err
}

// IndexMessages bulk-indexes messages.
func (m *Meili) IndexMessages(records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMessages).AddDocuments(records, nil)
	return err
}

// IndexReplies bulk-indexes replies.
func (m *Meili) IndexReplies(records []ReplyRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReplies).AddDocuments(records, nil)
	return err
}
