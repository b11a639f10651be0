package search

// Result is a single history search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Question     string `json:"question"`
	ConclusionID string `json:"conclusionId"`
	Snippet      string `json:"snippet"`
}

// Query describes a history search request.
type Query struct {
	Text         string
	FilterUserID string // empty = all users
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over history entries.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// HistoryRecord is the data we index for a history entry.
type HistoryRecord struct {
	ID           string `json:"id"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Question     string `json:"question"`
	ConclusionID string `json:"conclusionId"`
}
