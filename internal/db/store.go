package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/events"
)

// NoActivity is the status of a pickle that has never produced a result.
const NoActivity = "no-activity"

// ManualRun files results recorded by hand rather than by a run.
const ManualRun = "manual"

// ErrNotFound is returned when a pickle id or prefix matches nothing.
var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func NewStore(sqlDB *sql.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: sqlDB, log: log}
}

func (s *Store) DB() *sql.DB { return s.db }

// PickleRecord is what sync registers for one compiled pickle.
type PickleRecord struct {
	ID   string
	Name string
	Tags []string
	Line int
}

// SyncResult counts what SyncFeature changed.
type SyncResult struct {
	// NewFeature is set when uri was not registered before.
	NewFeature bool
	Added      int
	Updated    int
	Removed    int
}

// SyncFeature registers feature uri with exactly the given pickles. Pickles
// previously stored for uri and absent from pickles are removed along with
// their results.
func (s *Store) SyncFeature(ctx context.Context, uri, name string, pickles []PickleRecord) (SyncResult, error) {
	var res SyncResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning sync of %s: %w", uri, err)
	}
	defer tx.Rollback()

	var known int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM features WHERE uri = ?`, uri).Scan(&known); err != nil {
		return res, fmt.Errorf("looking up feature %s: %w", uri, err)
	}
	res.NewFeature = known == 0

	featureID, err := upsertFeature(ctx, tx, uri, name)
	if err != nil {
		return res, err
	}

	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, `SELECT id FROM pickles WHERE feature_id = ?`, featureID)
	if err != nil {
		return res, fmt.Errorf("querying pickles of %s: %w", uri, err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return res, fmt.Errorf("scanning pickle id: %w", err)
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("querying pickles of %s: %w", uri, err)
	}

	keep := make(map[string]bool, len(pickles))
	for _, p := range pickles {
		keep[p.ID] = true
		if err := upsertPickle(ctx, tx, featureID, p); err != nil {
			return res, err
		}
		if existing[p.ID] {
			res.Updated++
		} else {
			res.Added++
		}
	}
	for id := range existing {
		if keep[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pickles WHERE id = ?`, id); err != nil {
			return res, fmt.Errorf("removing pickle %s: %w", id, err)
		}
		res.Removed++
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("committing sync of %s: %w", uri, err)
	}
	return res, nil
}

// RemoveMissingFeatures deletes features whose uri is not in uris.
func (s *Store) RemoveMissingFeatures(ctx context.Context, uris []string) (int, error) {
	present := make(map[string]bool, len(uris))
	for _, u := range uris {
		present[u] = true
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, uri FROM features`)
	if err != nil {
		return 0, fmt.Errorf("querying features: %w", err)
	}
	var stale []int64
	for rows.Next() {
		var id int64
		var uri string
		if err := rows.Scan(&id, &uri); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning feature: %w", err)
		}
		if !present[uri] {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("querying features: %w", err)
	}

	for _, id := range stale {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM pickles WHERE feature_id = ?`, id); err != nil {
			return 0, fmt.Errorf("removing pickles of feature %d: %w", id, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("removing feature %d: %w", id, err)
		}
	}
	return len(stale), nil
}

func upsertFeature(ctx context.Context, q querier, uri, name string) (int64, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO features (uri, name) VALUES (?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN features.name ELSE excluded.name END,
			updated_at = datetime('now')
	`, uri, name)
	if err != nil {
		return 0, fmt.Errorf("upserting feature %s: %w", uri, err)
	}
	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM features WHERE uri = ?`, uri).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading feature id for %s: %w", uri, err)
	}
	return id, nil
}

func upsertPickle(ctx context.Context, q querier, featureID int64, p PickleRecord) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO pickles (id, feature_id, name, tags, line) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			feature_id = excluded.feature_id,
			name = excluded.name,
			tags = excluded.tags,
			line = CASE WHEN excluded.line = 0 THEN pickles.line ELSE excluded.line END,
			updated_at = datetime('now')
	`, p.ID, featureID, p.Name, strings.Join(p.Tags, " "), p.Line)
	if err != nil {
		return fmt.Errorf("upserting pickle %s: %w", p.ID, err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StartRun registers a run so results can reference it.
func (s *Store) StartRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO runs (id) VALUES (?)`, runID); err != nil {
		return fmt.Errorf("inserting run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stamps the run with its status counts.
func (s *Store) FinishRun(ctx context.Context, runID string, counts map[string]int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = datetime('now'), passed = ?, failed = ?, skipped = ?, pending = ?
		WHERE id = ?
	`, counts["passed"], counts["failed"], counts["skipped"], counts["pending"], runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	return nil
}

// Result is one finished attempt of a pickle.
type Result struct {
	RunID    string
	PickleID string
	URI      string
	Name     string
	Tags     []string
	Status   string
	Attempt  int
	Duration time.Duration
	Error    string
}

// RecordResult stores r, registering its feature and pickle if sync never
// saw them. Names and tags from sync are kept.
func (s *Store) RecordResult(ctx context.Context, r Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning result for %s: %w", r.PickleID, err)
	}
	defer tx.Rollback()

	featureID, err := upsertFeature(ctx, tx, r.URI, "")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO pickles (id, feature_id, name, tags) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.PickleID, featureID, r.Name, strings.Join(r.Tags, " "))
	if err != nil {
		return fmt.Errorf("registering pickle %s: %w", r.PickleID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO runs (id) VALUES (?)`, r.RunID); err != nil {
		return fmt.Errorf("registering run %s: %w", r.RunID, err)
	}
	attempt := r.Attempt
	if attempt < 1 {
		attempt = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO results (pickle_id, run_id, status, attempt, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.PickleID, r.RunID, r.Status, attempt, r.Duration.Milliseconds(), r.Error)
	if err != nil {
		return fmt.Errorf("inserting result for %s: %w", r.PickleID, err)
	}
	return tx.Commit()
}

// PickleRow is a stored pickle with its latest status.
type PickleRow struct {
	ID      string
	URI     string
	Feature string
	Name    string
	Tags    []string
	Line    int
	Status  string
}

const pickleSelect = `
	SELECT p.id AS id, f.uri AS uri, f.name AS feature_name, p.name AS pickle_name,
		p.tags AS tags, p.line AS line,
		COALESCE(
			(SELECT status FROM results WHERE pickle_id = p.id ORDER BY id DESC LIMIT 1),
			'no-activity'
		) AS current_status
	FROM pickles p
	JOIN features f ON p.feature_id = f.id
`

// ListFilter narrows List. Empty fields match everything.
type ListFilter struct {
	Status string
	URI    string
}

// List returns pickles ordered by feature and line.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]PickleRow, error) {
	query := `SELECT * FROM (` + pickleSelect + `) WHERE 1 = 1`
	var args []any
	if filter.Status != "" {
		query += ` AND current_status = ?`
		args = append(args, filter.Status)
	}
	if filter.URI != "" {
		query += ` AND uri = ?`
		args = append(args, filter.URI)
	}
	query += ` ORDER BY uri, line, pickle_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying pickles: %w", err)
	}
	defer rows.Close()

	var out []PickleRow
	for rows.Next() {
		row, err := scanPickle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Pickle finds a pickle by id or unique id prefix.
func (s *Store) Pickle(ctx context.Context, idOrPrefix string) (PickleRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (`+pickleSelect+`) WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 3`,
		idOrPrefix, escapeLike(idOrPrefix)+"%")
	if err != nil {
		return PickleRow{}, fmt.Errorf("querying pickle %s: %w", idOrPrefix, err)
	}
	defer rows.Close()

	var matches []PickleRow
	for rows.Next() {
		row, err := scanPickle(rows)
		if err != nil {
			return PickleRow{}, err
		}
		if row.ID == idOrPrefix {
			return row, nil
		}
		matches = append(matches, row)
	}
	if err := rows.Err(); err != nil {
		return PickleRow{}, fmt.Errorf("querying pickle %s: %w", idOrPrefix, err)
	}
	switch len(matches) {
	case 0:
		return PickleRow{}, fmt.Errorf("pickle %s: %w", idOrPrefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return PickleRow{}, fmt.Errorf("pickle prefix %s is ambiguous", idOrPrefix)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPickle(row scanner) (PickleRow, error) {
	var p PickleRow
	var tags string
	if err := row.Scan(&p.ID, &p.URI, &p.Feature, &p.Name, &tags, &p.Line, &p.Status); err != nil {
		return PickleRow{}, fmt.Errorf("scanning pickle: %w", err)
	}
	p.Tags = strings.Fields(tags)
	return p, nil
}

// History returns a pickle's results, newest first.
func (s *Store) History(ctx context.Context, pickleID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.status, r.attempt, r.duration_ms, r.error
		FROM results r
		WHERE r.pickle_id = ?
		ORDER BY r.id DESC
	`, pickleID)
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", pickleID, err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		r := Result{PickleID: pickleID}
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Status, &r.Attempt, &ms, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// StatusCount is the number of pickles whose latest status is Status.
type StatusCount struct {
	Status string
	Count  int
}

// StatusCounts groups pickles by latest status, most frequent first and
// no-activity last.
func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT current_status, COUNT(*) AS cnt
		FROM (`+pickleSelect+`)
		GROUP BY current_status
		ORDER BY CASE WHEN current_status = 'no-activity' THEN 1 ELSE 0 END, cnt DESC, current_status
	`)
	if err != nil {
		return nil, fmt.Errorf("querying status counts: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning status row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Run is a stored run summary.
type Run struct {
	ID         string
	StartedAt  string
	FinishedAt string
	Counts     map[string]int
}

// LatestRun returns the most recently started run, ignoring ManualRun.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var r Run
	var finished sql.NullString
	var passed, failed, skipped, pending int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, passed, failed, skipped, pending
		FROM runs WHERE id != ? ORDER BY started_at DESC, rowid DESC LIMIT 1
	`, ManualRun).Scan(&r.ID, &r.StartedAt, &finished, &passed, &failed, &skipped, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying latest run: %w", err)
	}
	r.FinishedAt = finished.String
	r.Counts = map[string]int{"passed": passed, "failed": failed, "skipped": skipped, "pending": pending}
	return r, nil
}

// Recorder returns a listener storing events of run runID. Storage errors are
// logged; a listener cannot fail the run.
func (s *Store) Recorder(runID string) events.Listener {
	return events.ListenerFunc(func(e events.Event) {
		ctx := context.Background()
		var err error
		switch e.Kind {
		case events.RunStarted:
			err = s.StartRun(ctx, runID)
		case events.ExecutableFinished:
			r := Result{
				RunID:    runID,
				PickleID: e.PickleID,
				URI:      e.URI,
				Name:     e.Title,
				Tags:     e.Tags,
				Status:   e.Status,
				Attempt:  e.Attempt,
				Duration: e.Duration,
			}
			if e.Err != nil {
				r.Error = e.Err.Error()
			}
			err = s.RecordResult(ctx, r)
		case events.RunFinished:
			err = s.FinishRun(ctx, runID, e.Counts)
		}
		if err != nil {
			s.log.Error("recording event failed", zap.String("kind", string(e.Kind)), zap.String("run", runID), zap.Error(err))
		}
	})
}
