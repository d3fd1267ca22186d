package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "nested", "digest.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("Expected clean version 2, got %d (dirty=%v)", version, dirty)
	}

	return db
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := newTestDB(t)

	version, _, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Expected second migration run to succeed, got: %v", err)
	}
	if version != 2 {
		t.Errorf("Expected version 2, got %d", version)
	}
}

func TestPostRepository_CreateAndGet(t *testing.T) {
	repo := NewPostRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.CreatePost(ctx, NewPost{
		Title:    "Weekly Digest",
		Subtitle: "Highlights",
		Body:     "<p>Hello</p>",
		Excerpt:  "Hello",
		Source:   SourceGenerated,
		Model:    "test-model",
		PaperIDs: []string{"2401.00001", "2401.00002"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if id <= 0 {
		t.Fatalf("Expected positive id, got %d", id)
	}

	post, err := repo.GetPost(ctx, id)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if post.Title != "Weekly Digest" || post.Subtitle != "Highlights" || post.Body != "<p>Hello</p>" {
		t.Errorf("Unexpected post fields: %+v", post)
	}
	if post.Source != SourceGenerated {
		t.Errorf("Expected generated source, got %s", post.Source)
	}
	if len(post.PaperIDs) != 2 || post.PaperIDs[1] != "2401.00002" {
		t.Errorf("Expected paper ids to round trip, got %v", post.PaperIDs)
	}
	if post.CreatedAt.IsZero() || time.Since(post.CreatedAt) > time.Minute {
		t.Errorf("Unexpected created at: %v", post.CreatedAt)
	}
}

func TestPostRepository_CreateRejectsInvalid(t *testing.T) {
	repo := NewPostRepository(newTestDB(t))
	ctx := context.Background()

	if _, err := repo.CreatePost(ctx, NewPost{Body: "<p>x</p>", Source: SourceManual}); err == nil {
		t.Error("Expected error for missing title")
	}
	if _, err := repo.CreatePost(ctx, NewPost{Title: "x", Body: "<p>x</p>", Source: "other"}); err == nil {
		t.Error("Expected error for invalid source")
	}

	count, err := repo.CountPosts(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no posts to be stored, got %d", count)
	}
}

func TestPostRepository_ListPosts_NewestFirst(t *testing.T) {
	repo := NewPostRepository(newTestDB(t))
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := repo.CreatePost(ctx, NewPost{
			Title:  fmt.Sprintf("Post %d", i),
			Body:   "<p>body</p>",
			Source: SourceManual,
		})
		if err != nil {
			t.Fatalf("Failed to create post %d: %v", i, err)
		}
	}

	posts, total, err := repo.ListPosts(ctx, 1, 2)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected total 5, got %d", total)
	}
	if len(posts) != 2 || posts[0].Title != "Post 5" || posts[1].Title != "Post 4" {
		t.Errorf("Unexpected first page: %+v", posts)
	}

	posts, _, err = repo.ListPosts(ctx, 3, 2)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(posts) != 1 || posts[0].Title != "Post 1" {
		t.Errorf("Unexpected last page: %+v", posts)
	}

	posts, _, err = repo.ListPosts(ctx, 10, 2)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("Expected empty page past the end, got %d posts", len(posts))
	}

	posts, total, err = repo.ListPosts(ctx, math.MaxInt, 50)
	if err != nil {
		t.Fatalf("Expected no error for a huge page, got: %v", err)
	}
	if len(posts) != 0 || total != 5 {
		t.Errorf("Expected empty page with total 5, got %d posts, total %d", len(posts), total)
	}
}

func TestPostRepository_NotFound(t *testing.T) {
	repo := NewPostRepository(newTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetPost(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
	if err := repo.DeletePost(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestPostRepository_DeletePost(t *testing.T) {
	repo := NewPostRepository(newTestDB(t))
	ctx := context.Background()

	id, err := repo.CreatePost(ctx, NewPost{Title: "Doomed", Body: "<p>x</p>", Source: SourceManual})
	if err != nil {
		t.Fatalf("Failed to create post: %v", err)
	}

	if err := repo.DeletePost(ctx, id); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := repo.GetPost(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected deleted post to be gone, got: %v", err)
	}
}

func TestRunRepository_SaveAndList(t *testing.T) {
	repo := NewRunRepository(newTestDB(t))
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	postID := int64(7)

	runs := []Run{
		{ID: "run-1", Trigger: "scheduled", State: "Failed", Reason: "SourceUnavailable", Error: "boom", StartedAt: base, FinishedAt: base.Add(time.Second)},
		{ID: "run-2", Trigger: "manual", State: "Published", PostID: &postID, PaperCount: 3, Model: "m", TotalTokens: 120, StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Minute)},
	}
	for _, run := range runs {
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("Failed to save run %s: %v", run.ID, err)
		}
	}

	listed, err := repo.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(listed))
	}
	if listed[0].ID != "run-2" {
		t.Errorf("Expected most recent run first, got %s", listed[0].ID)
	}
	if listed[0].PostID == nil || *listed[0].PostID != 7 {
		t.Errorf("Expected post id 7, got %v", listed[0].PostID)
	}
	if listed[1].PostID != nil {
		t.Errorf("Expected nil post id for failed run, got %v", *listed[1].PostID)
	}
	if !listed[1].StartedAt.Equal(base) {
		t.Errorf("Expected started at %v, got %v", base, listed[1].StartedAt)
	}
	if listed[1].Reason != "SourceUnavailable" {
		t.Errorf("Expected reason to round trip, got %q", listed[1].Reason)
	}
}
