package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/db"
	"github.com/sells-group/listing-scraper/internal/model"
)

// PostgresStore implements Store using pgxpool with JSONB documents.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	type             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	parameters       JSONB NOT NULL DEFAULT '{}'::jsonb,
	current_step     INTEGER NOT NULL DEFAULT 0,
	total_steps      INTEGER NOT NULL DEFAULT 0,
	progress_message TEXT NOT NULL DEFAULT '',
	logs             JSONB NOT NULL DEFAULT '[]'::jsonb,
	result           JSONB,
	error            TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	heartbeat_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS businesses (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name        TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	website     TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	name_key    TEXT NOT NULL DEFAULT '',
	address_key TEXT NOT NULL DEFAULT '',
	website_key TEXT NOT NULL DEFAULT '',
	doc         JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_businesses_identity ON businesses(name_key, address_key);
CREATE INDEX IF NOT EXISTS idx_businesses_website ON businesses(website_key);
CREATE INDEX IF NOT EXISTS idx_businesses_category ON businesses(category);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Jobs

const pgJobColumns = `id, type, status, parameters, current_step, total_steps, progress_message, logs, result, error, created_at, started_at, completed_at, heartbeat_at`

func (s *PostgresStore) CreateJob(ctx context.Context, jobType model.JobType, params model.JobParameters) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal parameters")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, status, parameters, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(jobType), string(model.JobStatusPending), paramsJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
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

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return j, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, clampLimit(filter.Limit))
	argIdx++

	if filter.Skip > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	jobs := []model.Job{}
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) MarkJobRunning(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, started_at = $2, heartbeat_at = $2, current_step = 0, total_steps = 1, progress_message = $3
		 WHERE id = $4 AND status = $5`,
		string(model.JobStatusRunning), now, initialProgress, id, string(model.JobStatusPending),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: mark job running %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, result = $2, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(model.JobStatusCompleted), []byte(result), time.Now().UTC(), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(model.JobStatusFailed), msg, time.Now().UTC(), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) CancelJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, completed_at = $3 WHERE id = $4 AND status = $5`,
		string(model.JobStatusFailed), CancelledMessage, time.Now().UTC(), id, string(model.JobStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel job %s", id)
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) AppendJobProgress(ctx context.Context, id string, p model.Progress) error {
	entry, err := json.Marshal([]model.LogEntry{{Timestamp: time.Now().UTC(), Message: p.Message, Step: p.CurrentStep}})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal log entry")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_step = $1, total_steps = $2, progress_message = $3, logs = logs || $4::jsonb
		 WHERE id = $5 AND status = $6`,
		p.CurrentStep, p.TotalSteps, p.Message, entry, id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append job progress %s", id)
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) HeartbeatJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET heartbeat_at = $1 WHERE id = $2 AND status = $3`,
		time.Now().UTC(), id, string(model.JobStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: heartbeat job %s", id)
	}
	return s.checkTransition(ctx, tag, id)
}

func (s *PostgresStore) FailStaleJobs(ctx context.Context, cutoff time.Time, msg string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error = $2, completed_at = now()
		 WHERE status = $3 AND COALESCE(heartbeat_at, started_at, created_at) < $4`,
		string(model.JobStatusFailed), msg, string(model.JobStatusRunning), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stale jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PendingJobIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM jobs WHERE status = $1 ORDER BY created_at ASC`, string(model.JobStatusPending))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending jobs")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending job")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: pending jobs iterate")
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		counts[model.JobStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count jobs iterate")
}

func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: check job")
	}
	return eris.Wrapf(ErrConflict, "job %s", id)
}

// Businesses

func (s *PostgresStore) SaveEntities(ctx context.Context, entities []model.Business, sourceType string) (SaveResult, error) {
	return saveEntities(ctx, s, entities, sourceType)
}

func (s *PostgresStore) findBusiness(ctx context.Context, b model.Business) (*model.Business, error) {
	nameKey, addressKey, websiteKey := identityColumns(b)

	var row pgx.Row
	if b.Identity() == model.IdentityNameAddress {
		row = s.pool.QueryRow(ctx,
			`SELECT id, doc FROM businesses WHERE name_key = $1 AND address_key = $2 ORDER BY created_at LIMIT 1`,
			nameKey, addressKey)
	} else {
		row = s.pool.QueryRow(ctx,
			`SELECT id, doc FROM businesses WHERE website_key = $1 ORDER BY created_at LIMIT 1`,
			websiteKey)
	}

	found, err := scanPgBusiness(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return found, err
}

func (s *PostgresStore) insertBusiness(ctx context.Context, b *model.Business) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal business")
	}
	nameKey, addressKey, websiteKey := identityColumns(*b)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO businesses (id, name, address, website, category, description, name_key, address_key, website_key, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.Name, b.Address, b.Website, b.Category, b.Description,
		nameKey, addressKey, websiteKey, doc, *b.CreatedAt, *b.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert business")
}

func (s *PostgresStore) updateBusiness(ctx context.Context, b *model.Business) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal business")
	}
	nameKey, addressKey, websiteKey := identityColumns(*b)
	_, err = s.pool.Exec(ctx,
		`UPDATE businesses SET name = $1, address = $2, website = $3, category = $4, description = $5,
		 name_key = $6, address_key = $7, website_key = $8, doc = $9, updated_at = $10 WHERE id = $11`,
		b.Name, b.Address, b.Website, b.Category, b.Description,
		nameKey, addressKey, websiteKey, doc, *b.UpdatedAt, b.ID,
	)
	return eris.Wrapf(err, "postgres: update business %s", b.ID)
}

func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, doc FROM businesses WHERE id = $1`, id)
	b, err := scanPgBusiness(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "business %s", id)
	}
	return b, err
}

func pgBusinessWhere(filter BusinessFilter) (string, []any, int) {
	where := ` WHERE true`
	args := []any{}
	argIdx := 1
	if filter.Search != "" {
		where += fmt.Sprintf(` AND (name ILIKE $%d OR address ILIKE $%d OR description ILIKE $%d)`, argIdx, argIdx, argIdx)
		args = append(args, likePattern(filter.Search))
		argIdx++
	}
	if filter.Category != "" {
		where += fmt.Sprintf(` AND category = $%d`, argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	return where, args, argIdx
}

func (s *PostgresStore) ListBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error) {
	where, args, argIdx := pgBusinessWhere(filter)
	query := `SELECT id, doc FROM businesses` + where +
		` ORDER BY ` + sortColumn(filter.Sort) + ` ` + sortDirection(filter.Order) + `, id` +
		fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, clampLimit(filter.Limit))
	argIdx++
	if filter.Skip > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Skip)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list businesses")
	}
	defer rows.Close()

	out := []model.Business{}
	for rows.Next() {
		b, err := scanPgBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan business")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list businesses iterate")
}

func (s *PostgresStore) CountBusinesses(ctx context.Context, filter BusinessFilter) (int, error) {
	where, args, _ := pgBusinessWhere(filter)
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM businesses`+where, args...).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count businesses")
	}
	return int(n), nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT category FROM businesses WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	cats := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

func (s *PostgresStore) CategoryCounts(ctx context.Context, limit int) ([]CategoryCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, COUNT(*) AS n FROM businesses GROUP BY category ORDER BY n DESC, category LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: category counts")
	}
	defer rows.Close()

	out := []CategoryCount{}
	for rows.Next() {
		var c CategoryCount
		var n int64
		if err := rows.Scan(&c.Category, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category count")
		}
		c.Count = int(n)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: category counts iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var jobType, status string
	var paramsJSON, logsJSON []byte
	var resultNull *[]byte
	var errMsg *string

	err := row.Scan(&j.ID, &jobType, &status, &paramsJSON, &j.CurrentStep, &j.TotalSteps, &j.ProgressMessage,
		&logsJSON, &resultNull, &errMsg, &j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	j.Type = model.JobType(jobType)
	j.Status = model.JobStatus(status)
	if err := json.Unmarshal(paramsJSON, &j.Parameters); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal parameters")
	}
	if err := json.Unmarshal(logsJSON, &j.Logs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal logs")
	}
	if j.Logs == nil {
		j.Logs = []model.LogEntry{}
	}
	if resultNull != nil {
		j.Result = json.RawMessage(*resultNull)
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	return &j, nil
}

func scanPgBusiness(row pgx.Row) (*model.Business, error) {
	var id string
	var doc []byte
	if err := row.Scan(&id, &doc); err != nil {
		return nil, err
	}
	var b model.Business
	if err := json.Unmarshal(doc, &b); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal business")
	}
	b.ID = id
	return &b, nil
}
