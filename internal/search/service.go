package search

import (
	"context"
	"log"
)

// primaryIndex is what the facade needs from Meilisearch.
type primaryIndex interface {
	Searcher
	Indexer
}

// fallbackIndex is the Postgres FTS surface: search plus the record dump
// used for reindexing.
type fallbackIndex interface {
	Search(q Query) ([]Result, int, error)
	LoadAllRecords(ctx context.Context) ([]GroupRecord, []PostRecord, []CommentRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili primaryIndex
	pgfts fallbackIndex
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{pgfts: pgfts}
	if meili != nil {
		s.meili = meili
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexGroup indexes a group (fire-and-forget to Meilisearch).
func (s *Service) IndexGroup(g GroupRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexGroup(g); err != nil {
			log.Printf("search: index group %s: %v", g.ID, err)
		}
	}()
}

// IndexPost indexes a post (fire-and-forget to Meilisearch).
func (s *Service) IndexPost(p PostRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPost(p); err != nil {
			log.Printf("search: index post %s: %v", p.ID, err)
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(c CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(c); err != nil {
			log.Printf("search: index comment %s: %v", c.ID, err)
		}
	}()
}

// Reindex pushes everything currently in Postgres into Meilisearch.
func (s *Service) Reindex(ctx context.Context) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	groups, posts, comments, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if err := s.meili.IndexGroup(g); err != nil {
			return err
		}
	}
	for _, p := range posts {
		if err := s.meili.IndexPost(p); err != nil {
			return err
		}
	}
	for _, c := range comments {
		if err := s.meili.IndexComment(c); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
