package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run sources.
const (
	SourceSchedule = "schedule"
	SourceAPI      = "api"
	SourceCLI      = "cli"
)

// CollectionRun is one pass of the snapshot collector.
type CollectionRun struct {
	ID             string     `json:"id"`
	Source         string     `json:"source"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	NodesSeen      int        `json:"nodes_seen"`
	NodesProcessed int        `json:"nodes_processed"`
	NodesFailed    int        `json:"nodes_failed"`
	PodsProcessed  int        `json:"pods_processed"`
	Error          string     `json:"error,omitempty"`
}

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("collection run not found")

const runColumns = `id, source, started_at, finished_at, nodes_seen, nodes_processed, nodes_failed, pods_processed, error`

func (db *DB) CreateRun(r *CollectionRun) error {
	if r.Source == "" {
		r.Source = SourceSchedule
	}
	_, err := db.Exec(db.Q(`INSERT INTO collection_runs (id, source, started_at) VALUES (?, ?, ?)`),
		r.ID, r.Source, db.dialect.Time(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run %s: %w", r.ID, err)
	}
	return nil
}

// FinishRun stores the outcome of a run created with CreateRun.
func (db *DB) FinishRun(r *CollectionRun) error {
	if r.FinishedAt == nil {
		now := time.Now()
		r.FinishedAt = &now
	}
	res, err := db.Exec(db.Q(`UPDATE collection_runs SET finished_at=?, nodes_seen=?, nodes_processed=?, nodes_failed=?, pods_processed=?, error=? WHERE id=?`),
		db.dialect.Time(*r.FinishedAt), r.NodesSeen, r.NodesProcessed, r.NodesFailed, r.PodsProcessed, r.Error, r.ID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", r.ID, ErrRunNotFound)
	}
	return nil
}

func (db *DB) GetRun(id string) (*CollectionRun, error) {
	row := db.QueryRow(db.Q(`SELECT `+runColumns+` FROM collection_runs WHERE id=?`), id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

// ListRuns returns the newest runs first.
func (db *DB) ListRuns(limit int) ([]*CollectionRun, error) {
	rows, err := db.Query(db.Q(`SELECT `+runColumns+` FROM collection_runs ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs := []*CollectionRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes runs started before cutoff.
func (db *DB) PruneRuns(cutoff time.Time) (int64, error) {
	res, err := db.Exec(db.Q(`DELETE FROM collection_runs WHERE started_at < ?`), db.dialect.Time(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*CollectionRun, error) {
	var r CollectionRun
	var startedAt, finishedAt any
	if err := s.Scan(&r.ID, &r.Source, &startedAt, &finishedAt, &r.NodesSeen, &r.NodesProcessed, &r.NodesFailed, &r.PodsProcessed, &r.Error); err != nil {
		return nil, err
	}
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTimePtr(finishedAt)
	return &r, nil
}
