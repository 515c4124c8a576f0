package search

import (
	"context"
	"log"

	"codeconnect/api/internal/metrics"
)

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili   *Meili
	sql     *SQLLike
	metrics *metrics.Metrics
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured, and m may be nil when instrumentation is not wired.
func NewService(meili *Meili, sqlLike *SQLLike, m *metrics.Metrics) *Service {
	return &Service{meili: meili, sql: sqlLike, metrics: m}
}

func (s *Service) countQuery(backend string) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueries.WithLabelValues(backend).Inc()
}

// Search tries Meilisearch if healthy, otherwise falls back to SQL matching.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if q.Sort == "" {
		q.Sort = SortRelevance
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			s.countQuery("meili")
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Sort: q.Sort}
		}
		log.Printf("search: meilisearch error, falling back to sql: %v", err)
	}

	s.countQuery("sql")
	results, total, err := s.sql.Search(ctx, q)
	if err != nil {
		log.Printf("search: sql error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Sort: q.Sort}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Sort: q.Sort}
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(record MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(record); err != nil {
			log.Printf("search: index message %s: %v", record.ID, err)
		}
	}()
}

// IndexReply indexes a reply (fire-and-forget to Meilisearch).
func (s *Service) IndexReply(record ReplyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReply(record); err != nil {
			log.Printf("search: index reply %s: %v", record.ID, err)
		}
	}()
}

// DeleteMessage removes a message from the search index (fire-and-forget).
func (s *Service) DeleteMessage(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMessage(id); err != nil {
			log.Printf("search: delete message %s: %v", id, err)
		}
	}()
}

// DeleteReply removes a reply from the search index (fire-and-forget).
func (s *Service) DeleteReply(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReply(id); err != nil {
			log.Printf("search: delete reply %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes preloaded records to Meilisearch.
func (s *Service) ReindexAll(messages []MessageRecord, replies []ReplyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(messages) > 0 {
		if err := s.meili.IndexMessages(messages); err != nil {
			log.Printf("search: reindex messages: %v", err)
		}
	}
	if len(replies) > 0 {
		if err := s.meili.IndexReplies(replies); err != nil {
			log.Printf("search: reindex replies: %v", err)
		}
	}
}

// ReindexAllFromSQL reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromSQL(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.sql == nil {
		return
	}
	messages, replies, err := s.sql.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(messages, replies)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
