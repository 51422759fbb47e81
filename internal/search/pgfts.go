package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across groups, posts, and comments
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Groups sub-query
	if q.FilterType == "" || q.FilterType == ResultGroup {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'group'::text AS type, g.id, g.name AS title,
				ts_headline('english', coalesce(g.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				g.id AS group_id, ''::text AS post_id,
				ts_rank(g.fts, %s) AS rank
			FROM groups g
			WHERE g.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Posts sub-query
	if q.FilterType == "" || q.FilterType == ResultPost {
		postWhere := "p.fts @@ " + tsQuery
		if q.FilterGroupID != "" {
			postWhere += fmt.Sprintf(" AND p.group_id = $%d", argN)
			args = append(args, q.FilterGroupID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.group_id, p.id AS post_id,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			WHERE %s`, tsQuery, tsQuery, postWhere))
	}

	// Comments sub-query
	if q.FilterType == "" || q.FilterType == ResultComment {
		commentWhere := "c.fts @@ " + tsQuery
		if q.FilterGroupID != "" {
			commentWhere += fmt.Sprintf(" AND p.group_id = $%d", argN)
			args = append(args, q.FilterGroupID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id, u.nick_name AS title,
				ts_headline('english', coalesce(c.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.group_id, c.post_id,
				ts_rank(c.fts, %s) AS rank
			FROM comments c
			JOIN posts p ON p.id = c.post_id
			JOIN users u ON u.id = c.user_id
			WHERE %s`, tsQuery, tsQuery, commentWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, group_id, post_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.GroupID, &r.PostID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GroupRecord, []PostRecord, []CommentRecord, error) {
	groupRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, category, description
		FROM groups
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load groups: %w", err)
	}
	defer groupRows.Close()

	groups := make([]GroupRecord, 0)
	for groupRows.Next() {
		var g GroupRecord
		if err := groupRows.Scan(&g.ID, &g.Name, &g.Category, &g.Desc); err != nil {
			return nil, nil, nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := groupRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate groups: %w", err)
	}

	postRows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, p.content, p.group_id, u.nick_name
		FROM posts p
		JOIN users u ON u.id = p.user_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var pr PostRecord
		if err := postRows.Scan(&pr.ID, &pr.Title, &pr.Content, &pr.GroupID, &pr.Author); err != nil {
			return nil, nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, pr)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.content, c.post_id, p.group_id, u.nick_name
		FROM comments c
		JOIN posts p ON p.id = c.post_id
		JOIN users u ON u.id = c.user_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		if err := commentRows.Scan(&c.ID, &c.Content, &c.PostID, &c.GroupID, &c.Author); err != nil {
			return nil, nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return groups, posts, comments, nil
}
