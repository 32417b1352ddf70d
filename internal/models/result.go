package models

import "time"

// RankedResult is a single search hit. Similarity is "higher is more similar" for every metric:
// raw cosine similarity in [-1, 1] for cosine, and 1 - euclidean distance (unbounded, may be
// negative) for L2.
type RankedResult struct {
	Card       *Card   `json:"card"`
	Similarity float64 `json:"similarity"`
}

// SearchResponse is the response for a search request. Results are in rank order.
type SearchResponse struct {
	SearchID  string         `json:"search_id"`
	Query     string         `json:"query"`
	Metric    string         `json:"metric"`
	K         int            `json:"k"`
	Results   []RankedResult `json:"results"`
	Total     int            `json:"total"`
	QueryTime int64          `json:"query_time_ms"`
	// Message is "no results" for an empty but successful search.
	Message string `json:"message,omitempty"`
}

// HistoryEntry is one logged search.
type HistoryEntry struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	QueryText   string    `json:"query_text" db:"query_text"`
	ResultCount int       `json:"result_count" db:"result_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HistoryPage is a page of a user's search history, newest first.
type HistoryPage struct {
	Searches   []*HistoryEntry `json:"searches"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PerPage    int             `json:"per_page"`
	TotalPages int64           `json:"total_pages"`
}

// HistoryStats summarizes a user's searches.
type HistoryStats struct {
	TotalSearches int        `json:"total_searches"`
	TotalResults  int        `json:"total_results"`
	AvgResults    float64    `json:"avg_results"`
	MostRecent    *time.Time `json:"most_recent"`
	Oldest        *time.Time `json:"oldest"`
}
