package database

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

type runRepository struct {
	db *DB
}

// NewRunRepository creates a repository for the run history
func NewRunRepository(db *DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) SaveRun(ctx context.Context, run Run) error {
	var postID any
	if run.PostID != nil {
		postID = *run.PostID
	}

	query, args, err := sq.Insert("runs").
		Columns("id", "trigger_type", "state", "reason", "error", "post_id", "paper_count", "model", "total_tokens", "started_at", "finished_at").
		Values(run.ID, run.Trigger, run.State, run.Reason, run.Error, postID, run.PaperCount, run.Model, run.TotalTokens, formatTime(run.StartedAt), formatTime(run.FinishedAt)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// ListRuns returns the most recent runs first
func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}

	query, args, err := sq.Select("id", "trigger_type", "state", "reason", "error", "post_id", "paper_count", "model", "total_tokens", "started_at", "finished_at").
		From("runs").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			postID     sql.NullInt64
			startedAt  string
			finishedAt string
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &run.State, &run.Reason, &run.Error, &postID, &run.PaperCount, &run.Model, &run.TotalTokens, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if postID.Valid {
			id := postID.Int64
			run.PostID = &id
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}
