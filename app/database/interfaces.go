package database

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

type PostRepository interface {
	CreatePost(ctx context.Context, post NewPost) (int64, error)
	ListPosts(ctx context.Context, page, perPage int) ([]Post, int, error)
	GetPost(ctx context.Context, id int64) (*Post, error)
	DeletePost(ctx context.Context, id int64) error
	CountPosts(ctx context.Context) (int, error)
}

type RunRepository interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
