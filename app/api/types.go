package api

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/lysyi3m/research-digest/app/content"
	"github.com/lysyi3m/research-digest/app/database"
	"github.com/lysyi3m/research-digest/app/feed"
	"github.com/lysyi3m/research-digest/app/pipeline"
	"github.com/lysyi3m/research-digest/app/scheduler"
)

const (
	defaultPerPage = 10
	maxPerPage     = 50
	maxPage        = math.MaxInt32 / maxPerPage
	defaultRuns    = 20
)

type PipelineInterface interface {
	Run(ctx context.Context, trigger pipeline.Trigger) (pipeline.Run, error)
	Start(trigger pipeline.Trigger) (pipeline.Run, error)
	Status() pipeline.Status
}

type FormatterInterface interface {
	FormatManual(title, subtitle, body string) (content.Draft, error)
}

type ImporterInterface interface {
	Import(ctx context.Context, rawURL string) (content.Draft, error)
}

type ScheduleInterface interface {
	NextRun() time.Time
}

type FeedInterface interface {
	Run(posts []database.Post, now time.Time) (string, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

var (
	_ PipelineInterface  = (*pipeline.Orchestrator)(nil)
	_ FormatterInterface = (*content.Formatter)(nil)
	_ ImporterInterface  = (*content.Importer)(nil)
	_ ScheduleInterface  = (*scheduler.Scheduler)(nil)
	_ FeedInterface      = (*feed.Generator)(nil)
	_ Pinger             = (*database.DB)(nil)
)

type Handler struct {
	postRepo  database.PostRepository
	runRepo   database.RunRepository
	pipeline  PipelineInterface
	formatter FormatterInterface
	importer  ImporterInterface
	schedule  ScheduleInterface
	feed      FeedInterface
	db        Pinger
	metrics   http.Handler
}

type createPostRequest struct {
	Title    string `json:"title" binding:"required"`
	Subtitle string `json:"subtitle"`
	Content  string `json:"content" binding:"required"`
}

type importPostRequest struct {
	URL string `json:"url" binding:"required"`
}

type postResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	Body      string    `json:"body,omitempty"`
	Excerpt   string    `json:"excerpt"`
	Source    string    `json:"source"`
	Model     string    `json:"model,omitempty"`
	PaperIDs  []string  `json:"paper_ids"`
	CreatedAt time.Time `json:"created_at"`
}

type postPage struct {
	Posts       []postResponse `json:"posts"`
	Total       int            `json:"total"`
	Pages       int            `json:"pages"`
	CurrentPage int            `json:"current_page"`
	PerPage     int            `json:"per_page"`
	HasNext     bool           `json:"has_next"`
	HasPrev     bool           `json:"has_prev"`
}

type draftResponse struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Body     string `json:"body"`
	Excerpt  string `json:"excerpt"`
}

type runResponse struct {
	ID          string         `json:"id"`
	Trigger     string         `json:"trigger"`
	State       string         `json:"state"`
	Reason      string         `json:"reason,omitempty"`
	Error       string         `json:"error,omitempty"`
	PostID      *int64         `json:"post_id,omitempty"`
	PaperCount  int            `json:"paper_count"`
	Model       string         `json:"model,omitempty"`
	TotalTokens int            `json:"total_tokens"`
	Truncated   bool           `json:"truncated,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Duration    string         `json:"duration,omitempty"`
	Draft       *draftResponse `json:"draft,omitempty"`
}

func newPostResponse(post database.Post, withBody bool) postResponse {
	resp := postResponse{
		ID:        post.ID,
		Title:     post.Title,
		Subtitle:  post.Subtitle,
		Excerpt:   post.Excerpt,
		Source:    string(post.Source),
		Model:     post.Model,
		PaperIDs:  post.PaperIDs,
		CreatedAt: post.CreatedAt,
	}
	if withBody {
		resp.Body = post.Body
	}
	return resp
}

func newRunResponse(run pipeline.Run) runResponse {
	resp := runResponse{
		ID:          run.ID,
		Trigger:     string(run.Trigger),
		State:       string(run.State),
		Reason:      string(run.Reason),
		Error:       run.Error,
		PaperCount:  run.PaperCount,
		Model:       run.Model,
		TotalTokens: run.TotalTokens,
		Truncated:   run.Truncated,
		StartedAt:   run.StartedAt,
	}
	if run.PostID != 0 {
		id := run.PostID
		resp.PostID = &id
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		resp.FinishedAt = &finished
		resp.Duration = run.Duration().String()
	}
	if run.Draft != nil {
		resp.Draft = &draftResponse{
			Title:    run.Draft.Title,
			Subtitle: run.Draft.Subtitle,
			Body:     run.Draft.Body,
			Excerpt:  run.Draft.Excerpt,
		}
	}
	return resp
}

func newRecordedRunResponse(run database.Run) runResponse {
	finished := run.FinishedAt
	return runResponse{
		ID:          run.ID,
		Trigger:     run.Trigger,
		State:       run.State,
		Reason:      run.Reason,
		Error:       run.Error,
		PostID:      run.PostID,
		PaperCount:  run.PaperCount,
		Model:       run.Model,
		TotalTokens: run.TotalTokens,
		StartedAt:   run.StartedAt,
		FinishedAt:  &finished,
		Duration:    run.FinishedAt.Sub(run.StartedAt).String(),
	}
}
