package postgresql

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"video-job-orchestrator/internal/entity"
)

const schema = `
CREATE TABLE IF NOT EXISTS video_jobs (
    id             TEXT PRIMARY KEY,
    status         TEXT        NOT NULL,
    correlation_id TEXT        NOT NULL,
    version        BIGINT      NOT NULL,
    snapshot       JSONB       NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS video_jobs_updated_at_idx ON video_jobs (updated_at DESC);
`

// JobRepository stores full job snapshots. It is a write-through copy of the
// in-memory store, not the source of truth while the process runs.
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "create video_jobs schema")
	}
	return nil
}

// Save upserts the snapshot. Older versions never overwrite newer ones.
func (r *JobRepository) Save(ctx context.Context, job *entity.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "marshal job %s", job.ID)
	}

	const q = `
INSERT INTO video_jobs (id, status, correlation_id, version, snapshot, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
    version = EXCLUDED.version,
    snapshot = EXCLUDED.snapshot,
    updated_at = EXCLUDED.updated_at
WHERE video_jobs.version < EXCLUDED.version;
`
	if _, err := r.pool.Exec(ctx, q,
		job.ID,
		string(job.Status),
		job.CorrelationID,
		int64(job.Version),
		snapshot,
		job.CreatedAt,
		job.UpdatedAt,
	); err != nil {
		return errors.Wrapf(err, "save job %s", job.ID)
	}
	return nil
}

// LoadRecent returns up to limit snapshots, most recently updated first.
func (r *JobRepository) LoadRecent(ctx context.Context, limit int) ([]*entity.Job, error) {
	const q = `SELECT snapshot FROM video_jobs ORDER BY updated_at DESC LIMIT $1;`

	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "load recent jobs")
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan job snapshot")
		}
		j, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate job snapshots")
	}
	return out, nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM video_jobs WHERE id = $1;`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return errors.Wrapf(err, "delete job %s", id)
	}
	return nil
}

func decodeSnapshot(raw []byte) (*entity.Job, error) {
	var j entity.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, errors.Wrap(err, "decode job snapshot")
	}
	return &j, nil
}
