package database

import (
	"time"
)

type Source string

const (
	SourceGenerated Source = "generated"
	SourceManual    Source = "manual"
)

func (s Source) Valid() bool {
	return s == SourceGenerated || s == SourceManual
}

// Post is immutable once created
type Post struct {
	ID        int64
	Title     string
	Subtitle  string
	Body      string // sanitized markup
	Excerpt   string
	Source    Source
	Model     string
	PaperIDs  []string
	CreatedAt time.Time
}

type NewPost struct {
	Title    string
	Subtitle string
	Body     string
	Excerpt  string
	Source   Source
	Model    string
	PaperIDs []string
}

// Run is one terminal pipeline execution
type Run struct {
	ID          string
	Trigger     string
	State       string
	Reason      string
	Error       string
	PostID      *int64
	PaperCount  int
	Model       string
	TotalTokens int
	StartedAt   time.Time
	FinishedAt  time.Time
}
