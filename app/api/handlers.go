package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/research-digest/app/content"
	"github.com/lysyi3m/research-digest/app/database"
	"github.com/lysyi3m/research-digest/app/feed"
	"github.com/lysyi3m/research-digest/app/pipeline"
)

// NewHandler builds the HTTP handlers. schedule is nil when the scheduler is
// disabled; metrics may be nil.
func NewHandler(postRepo database.PostRepository, runRepo database.RunRepository, orchestrator PipelineInterface,
	formatter FormatterInterface, importer ImporterInterface, schedule ScheduleInterface, generator FeedInterface,
	db Pinger, metrics http.Handler) *Handler {
	return &Handler{
		postRepo:  postRepo,
		runRepo:   runRepo,
		pipeline:  orchestrator,
		formatter: formatter,
		importer:  importer,
		schedule:  schedule,
		feed:      generator,
		db:        db,
		metrics:   metrics,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"status":    "ok",
	}

	status := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.db.PingContext(ctx); err != nil {
			slog.Error("Database error", "operation", "ping", "error", err)
			health["status"] = "degraded"
			health["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}

	if count, err := h.postRepo.CountPosts(c.Request.Context()); err == nil {
		health["posts"] = count
	}

	health["running"] = h.pipeline.Status().Running

	c.JSON(status, health)
}

func (h *Handler) GetFeed(c *gin.Context) {
	posts, _, err := h.postRepo.ListPosts(c.Request.Context(), 1, feed.DefaultItems)
	if err != nil {
		slog.Error("Database error", "operation", "list_posts", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.feed.Run(posts, time.Now())
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(posts)))
	c.String(http.StatusOK, rss)
}

func (h *Handler) GetMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) ListPosts(c *gin.Context) {
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	perPage := queryInt(c, "per_page", defaultPerPage)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	posts, total, err := h.postRepo.ListPosts(c.Request.Context(), page, perPage)
	if err != nil {
		slog.Error("Database error", "operation", "list_posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	pages := (total + perPage - 1) / perPage

	result := postPage{
		Posts:       make([]postResponse, 0, len(posts)),
		Total:       total,
		Pages:       pages,
		CurrentPage: page,
		PerPage:     perPage,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	}
	for _, post := range posts {
		result.Posts = append(result.Posts, newPostResponse(post, false))
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}

	post, err := h.postRepo.GetPost(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "get_post", "post_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, newPostResponse(*post, true))
}

func (h *Handler) DeletePost(c *gin.Context) {
	id, ok := postID(c)
	if !ok {
		return
	}

	err := h.postRepo.DeletePost(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "delete_post", "post_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Post deleted", "post_id", id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title and content are required"})
		return
	}

	draft, err := h.formatter.FormatManual(req.Title, req.Subtitle, req.Content)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   string(pipeline.ReasonMalformedContent),
			"message": err.Error(),
		})
		return
	}

	h.storeManual(c, draft)
}

func (h *Handler) ImportPost(c *gin.Context) {
	var req importPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}

	draft, err := h.importer.Import(c.Request.Context(), req.URL)
	switch {
	case errors.Is(err, content.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL", "message": err.Error()})
		return
	case errors.Is(err, content.ErrMalformedContent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   string(pipeline.ReasonMalformedContent),
			"message": err.Error(),
		})
		return
	case err != nil:
		slog.Warn("Import failed", "url", req.URL, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Import failed", "message": err.Error()})
		return
	}

	h.storeManual(c, draft)
}

func (h *Handler) storeManual(c *gin.Context, draft content.Draft) {
	id, err := h.postRepo.CreatePost(c.Request.Context(), database.NewPost{
		Title:    draft.Title,
		Subtitle: draft.Subtitle,
		Body:     draft.Body,
		Excerpt:  draft.Excerpt,
		Source:   database.SourceManual,
	})
	if err != nil {
		slog.Error("Database error", "operation", "create_post", "title", draft.Title, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(pipeline.ReasonStorageFailure),
			"message": "Failed to store post",
		})
		return
	}

	post, err := h.postRepo.GetPost(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{"id": id})
		return
	}

	slog.Info("Manual post created", "post_id", id, "title", draft.Title)
	c.JSON(http.StatusCreated, newPostResponse(*post, true))
}

// Generate triggers a pipeline run. The run is synchronous unless async=true,
// in which case 202 is returned once the single-flight lock is held.
func (h *Handler) Generate(c *gin.Context) {
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))

	if async {
		run, err := h.pipeline.Start(pipeline.TriggerManual)
		if err != nil {
			h.runFailed(c, run, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"run_id":     run.ID,
			"state":      run.State,
			"status_url": "/api/status",
		})
		return
	}

	// A client disconnect does not cancel the run
	ctx := context.WithoutCancel(c.Request.Context())

	run, err := h.pipeline.Run(ctx, pipeline.TriggerManual)
	if err != nil {
		h.runFailed(c, run, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"post_id": run.PostID,
		"run":     newRunResponse(run),
	})
}

func (h *Handler) runFailed(c *gin.Context, run pipeline.Run, err error) {
	reason := pipeline.ReasonOf(err)

	body := gin.H{
		"error":   string(reason),
		"message": err.Error(),
	}
	if run.ID != "" {
		body["run"] = newRunResponse(run)
	}

	c.JSON(statusForReason(reason), body)
}

func (h *Handler) GetStatus(c *gin.Context) {
	status := h.pipeline.Status()

	result := map[string]interface{}{
		"running": status.Running,
	}
	if status.Current != nil {
		result["current_run"] = newRunResponse(*status.Current)
	}
	if status.Last != nil {
		result["last_run"] = newRunResponse(*status.Last)
		result["last_run_at"] = status.LastRunAt
	}

	if h.schedule != nil {
		result["scheduler"] = map[string]interface{}{
			"enabled":  true,
			"next_run": h.schedule.NextRun(),
		}
	} else {
		result["scheduler"] = map[string]interface{}{"enabled": false}
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := queryInt(c, "limit", defaultRuns)
	if limit < 1 || limit > 100 {
		limit = defaultRuns
	}

	runs, err := h.runRepo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		result = append(result, newRecordedRunResponse(run))
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  result,
		"total": len(result),
	})
}

func statusForReason(reason pipeline.Reason) int {
	switch reason {
	case pipeline.ReasonBusy:
		return http.StatusConflict
	case pipeline.ReasonNoRelevantPapers, pipeline.ReasonGenerationEmpty, pipeline.ReasonMalformedContent:
		return http.StatusUnprocessableEntity
	case pipeline.ReasonSourceUnavailable, pipeline.ReasonGenerationUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func postID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid post id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value := c.Query(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
