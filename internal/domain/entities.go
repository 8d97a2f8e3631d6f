package domain

import "time"

// Similarity metrics a collection can be created with.
const (
	MetricCosine = "cosine"
	MetricL2     = "l2"
)

type Record struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Vector   []float32         `json:"-"`
}

type CollectionSpec struct {
	Name      string
	Dimension int
	Metric    string
	Model     string
	Source    string
}

type CollectionInfo struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Metric    string    `json:"metric"`
	Model     string    `json:"model"`
	Source    string    `json:"source,omitempty"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

type Match struct {
	Record Record
	Score  float64
}

type QueryResult struct {
	Collection string      `json:"collection"`
	Question   string      `json:"question"`
	TopK       int         `json:"top_k"`
	Rows       []ResultRow `json:"rows"`
}

// ResultRow is the presentation form of a Match.
type ResultRow struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type IngestSummary struct {
	Collection    string   `json:"collection_name"`
	Source        string   `json:"source"`
	RowsSeen      int      `json:"rows_seen"`
	RowsIngested  int      `json:"rows_ingested"`
	RowsSkipped   int      `json:"rows_skipped"`
	RowsDuplicate int      `json:"rows_duplicate"`
	Batches       int      `json:"batches"`
	Existed       bool     `json:"existed"`
	Warnings      []string `json:"warnings,omitempty"`
}
