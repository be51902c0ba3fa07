package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/listing-scraper/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	parameters       TEXT NOT NULL DEFAULT '{}',
	current_step     INTEGER NOT NULL DEFAULT 0,
	total_steps      INTEGER NOT NULL DEFAULT 0,
	progress_message TEXT NOT NULL DEFAULT '',
	logs             TEXT NOT NULL DEFAULT '[]',
	result           TEXT,
	error            TEXT,
	created_at       DATETIME NOT NULL,
	started_at       DATETIME,
	completed_at     DATETIME,
	heartbeat_at     DATETIME
);

CREATE TABLE IF NOT EXISTS businesses (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	website     TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	name_key    TEXT NOT NULL DEFAULT '',
	address_key TEXT NOT NULL DEFAULT '',
	website_key TEXT NOT NULL DEFAULT '',
	doc         TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_businesses_identity ON businesses(name_key, address_key);
CREATE INDEX IF NOT EXISTS idx_businesses_website ON businesses(website_key);
CREATE INDEX IF NOT EXISTS idx_businesses_category ON businesses(category);
`

// Migrate creates the schema if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Jobs

const sqliteJobColumns = `id, type, status, parameters, current_step, total_steps, progress_message, logs, result, error, created_at, started_at, completed_at, heartbeat_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, jobType model.JobType, params model.JobParameters) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal parameters")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, type, status, parameters, progress_message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(jobType), string(model.JobStatusPending), string(paramsJSON), "", now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:         id,
		Type:       jobType,
		Status:     model.JobStatusPending,
		Parameters: params,
		Logs:       []model.LogEntry{},
		CreatedAt:  now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id)
	return scanSQLiteJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	if filter.Skip > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) MarkJobRunning(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, heartbeat_at = ?, current_step = 0, total_steps = 1, progress_message = ?
		 WHERE id = ? AND status = ?`,
		string(model.JobStatusRunning), now, now, initialProgress, id, string(model.JobStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: mark job running %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusCompleted), string(result), time.Now().UTC(), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusFailed), msg, time.Now().UTC(), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) CancelJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.JobStatusFailed), CancelledMessage, time.Now().UTC(), id, string(model.JobStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel job %s", id)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) AppendJobProgress(ctx context.Context, id string, p model.Progress) error {
	entry, err := json.Marshal(model.LogEntry{Timestamp: time.Now().UTC(), Message: p.Message, Step: p.CurrentStep})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal log entry")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_step = ?, total_steps = ?, progress_message = ?, logs = json_insert(logs, '$[#]', json(?))
		 WHERE id = ? AND status = ?`,
		p.CurrentStep, p.TotalSteps, p.Message, string(entry), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append job progress %s", id)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) HeartbeatJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status = ?`,
		time.Now().UTC(), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: heartbeat job %s", id)
	}
	return s.checkTransition(ctx, res, id)
}

func (s *SQLiteStore) FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = ?
		 WHERE status = ? AND COALESCE(heartbeat_at, started_at, created_at) < ?`,
		string(model.JobStatusFailed), msg, time.Now().UTC(), string(model.JobStatusRunning), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stale jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) PendingJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC`, string(model.JobStatusPending))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending job")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: pending jobs iterate")
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count jobs iterate")
}

// checkTransition turns a zero-row conditional update into ErrNotFound or
// ErrConflict depending on whether the job exists.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: check job")
	}
	return eris.Wrapf(ErrConflict, "job %s", id)
}

// Businesses

func (s *SQLiteStore) SaveEntities(ctx context.Context, entities []model.Business, sourceType string) (SaveResult, error) {
	return saveEntities(ctx, s, entities, sourceType)
}

func (s *SQLiteStore) findBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
	nameKey, addressKey, websiteKey := identityColumns(b)

	var row *sql.Row
	if b.Identity() == model.IdentityNameAddress {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, doc FROM businesses WHERE name_key = ? AND address_key = ? ORDER BY created_at LIMIT 1`,
			nameKey, addressKey)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT id, doc FROM businesses WHERE website_key = ? ORDER BY created_at LIMIT 1`,
			websiteKey)
	}

	found, err := scanSQLiteBusiness(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return found, err
}

func (s *SQLiteStore) insertBusiness(ctx context.Context, b *model.Business) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal business")
	}
	nameKey, addressKey, websiteKey := identityColumns(*b)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, address, website, category, description, name_key, address_key, website_key, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Address, b.Website, b.Category, b.Description,
		nameKey, addressKey, websiteKey, string(doc), *b.CreatedAt, *b.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert business")
}

func (s *SQLiteStore) updateBusiness(ctx context.Context, b *model.Business) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal business")
	}
	nameKey, addressKey, websiteKey := identityColumns(*b)
	_, err = s.db.ExecContext(ctx,
		`UPDATE businesses SET name = ?, address = ?, website = ?, category = ?, description = ?,
		 name_key = ?, address_key = ?, website_key = ?, doc = ?, updated_at = ? WHERE id = ?`,
		b.Name, b.Address, b.Website, b.Category, b.Description,
		nameKey, addressKey, websiteKey, string(doc), *b.UpdatedAt, b.ID,
	)
	return eris.Wrapf(err, "sqlite: update business %s", b.ID)
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, doc FROM businesses WHERE id = ?`, id)
	return scanSQLiteBusiness(row)
}

func sqliteBusinessWhere(filter BusinessFilter) (string, []any) {
	where := ` WHERE 1=1`
	var args []any
	if filter.Search != "" {
		p := likePattern(filter.Search)
		where += ` AND (LOWER(name) LIKE ? ESCAPE '\' OR LOWER(address) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`
		args = append(args, p, p, p)
	}
	if filter.Category != "" {
		where += ` AND category = ?`
		args = append(args, filter.Category)
	}
	return where, args
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error) {
	where, args := sqliteBusinessWhere(filter)
	query := `SELECT id, doc FROM businesses` + where +
		` ORDER BY ` + sortColumn(filter.Sort) + ` ` + sortDirection(filter.Order) + `, id LIMIT ?`
	args = append(args, clampLimit(filter.Limit))
	if filter.Skip > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list businesses")
	}
	defer rows.Close()

	out := []model.Business{}
	for rows.Next() {
		b, err := scanSQLiteBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list businesses iterate")
}

func (s *SQLiteStore) CountBusinesses(ctx context.Context, filter BusinessFilter) (int, error) {
	where, args := sqliteBusinessWhere(filter)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM businesses`+where, args...).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count businesses")
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM businesses WHERE category != '' ORDER BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	cats := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

func (s *SQLiteStore) CategoryCounts(ctx context.Context, limit int) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) AS n FROM businesses GROUP BY category ORDER BY n DESC, category LIMIT ?`,
		clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: category counts")
	}
	defer rows.Close()

	out := []CategoryCount{}
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category count")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: category counts iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var j model.Job
	var jobType, status, paramsJSON, logsJSON string
	var result, errMsg sql.NullString
	var startedAt, completedAt, heartbeatAt sql.NullTime

	err := row.Scan(&j.ID, &jobType, &status, &paramsJSON, &j.CurrentStep, &j.TotalSteps, &j.ProgressMessage,
		&logsJSON, &result, &errMsg, &j.CreatedAt, &startedAt, &completedAt, &heartbeatAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(paramsJSON), &j.Parameters); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal parameters")
	}
	if err := json.Unmarshal([]byte(logsJSON), &j.Logs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal logs")
	}
	if j.Logs == nil {
		j.Logs = []model.LogEntry{}
	}
	if result.Valid && result.String != "" {
		j.Result = json.RawMessage(result.String)
	}
	j.Error = errMsg.String
	j.StartedAt = nullTimePtr(startedAt)
	j.CompletedAt = nullTimePtr(completedAt)
	j.HeartbeatAt = nullTimePtr(heartbeatAt)
	return &j, nil
}

func scanSQLiteBusiness(row scannable) (*model.Business, error) {
	var id, doc string
	err := row.Scan(&id, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "business")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan business")
	}
	var b model.Business
	if err := json.Unmarshal([]byte(doc), &b); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal business")
	}
	b.ID = id
	return &b, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
