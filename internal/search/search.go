package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultGroup   ResultType = "group"
	ResultPost    ResultType = "post"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	GroupID string     `json:"groupId"`
	PostID  string     `json:"postId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text          string
	FilterType    ResultType // empty = all types
	FilterGroupID string
	Limit         int
	Offset        int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexGroup(g GroupRecord) error
	IndexPost(p PostRecord) error
	IndexComment(c CommentRecord) error
}

// GroupRecord is the data we index for a group.
type GroupRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Desc     string `json:"desc"`
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	GroupID string `json:"groupId"`
	Author  string `json:"author"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	PostID  string `json:"postId"`
	GroupID string `json:"groupId"`
	Author  string `json:"author"`
}
