package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var postColumns = []string{"id", "title", "subtitle", "body", "excerpt", "source", "model", "paper_ids", "created_at"}

// postRepository persists published posts
type postRepository struct {
	db  *DB
	now func() time.Time
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *DB) PostRepository {
	return &postRepository{db: db, now: time.Now}
}

func (r *postRepository) CreatePost(ctx context.Context, post NewPost) (int64, error) {
	if post.Title == "" {
		return 0, fmt.Errorf("failed to create post: title is required")
	}
	if !post.Source.Valid() {
		return 0, fmt.Errorf("failed to create post: invalid source %q", post.Source)
	}

	paperIDs := post.PaperIDs
	if paperIDs == nil {
		paperIDs = []string{}
	}
	encoded, err := json.Marshal(paperIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to encode paper ids: %w", err)
	}

	query, args, err := sq.Insert("posts").
		Columns("title", "subtitle", "body", "excerpt", "source", "model", "paper_ids", "created_at").
		Values(post.Title, post.Subtitle, post.Body, post.Excerpt, string(post.Source), post.Model, string(encoded), formatTime(r.now())).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build insert: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to create post: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read post id: %w", err)
	}

	return id, nil
}

// ListPosts returns one page of posts, newest first, and the total count
func (r *postRepository) ListPosts(ctx context.Context, page, perPage int) ([]Post, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return nil, 0, fmt.Errorf("failed to list posts: per page must be positive")
	}

	total, err := r.CountPosts(ctx)
	if err != nil {
		return nil, 0, err
	}
	if page-1 > total/perPage {
		return []Post{}, total, nil
	}

	query, args, err := sq.Select(postColumns...).
		From("posts").
		OrderBy("id DESC").
		Limit(uint64(perPage)).
		Offset(uint64((page - 1) * perPage)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	posts := make([]Post, 0, perPage)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, *post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate posts: %w", err)
	}

	return posts, total, nil
}

func (r *postRepository) GetPost(ctx context.Context, id int64) (*Post, error) {
	query, args, err := sq.Select(postColumns...).
		From("posts").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	post, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return post, nil
}

func (r *postRepository) DeletePost(ctx context.Context, id int64) error {
	query, args, err := sq.Delete("posts").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *postRepository) CountPosts(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("posts").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}

	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		post      Post
		source    string
		paperIDs  string
		createdAt string
	)

	err := row.Scan(&post.ID, &post.Title, &post.Subtitle, &post.Body, &post.Excerpt, &source, &post.Model, &paperIDs, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan post: %w", err)
	}

	post.Source = Source(source)
	post.PaperIDs = []string{}
	if paperIDs != "" {
		if err := json.Unmarshal([]byte(paperIDs), &post.PaperIDs); err != nil {
			return nil, fmt.Errorf("failed to decode paper ids: %w", err)
		}
	}

	post.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}

	return &post, nil
}
