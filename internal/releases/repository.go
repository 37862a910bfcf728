package releases

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mscandco/platform/internal/platform/db"
	"github.com/mscandco/platform/internal/rbac"
	"github.com/mscandco/platform/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, change StatusChange) (Release, error)
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const releaseColumns = `id, status, artist_id, label_admin_id, distribution_partner_id, title, genre, release_date, metadata, created_by, created_at, updated_at, submitted_at`

func scanRelease(row pgx.Row) (Release, error) {
	var (
		rel    Release
		status string
	)
	err := row.Scan(&rel.ID, &status, &rel.ArtistID, &rel.LabelAdminID, &rel.DistributionPartnerID,
		&rel.Title, &rel.Genre, &rel.ReleaseDate, &rel.Metadata, &rel.CreatedBy,
		&rel.CreatedAt, &rel.UpdatedAt, &rel.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Release{}, ErrNotFound
		}
		return Release{}, err
	}
	rel.Status = Status(status)
	if rel.Metadata == nil {
		rel.Metadata = Metadata{}
	}
	return rel, nil
}

// Get returns a release by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Release, error) {
	return scanRelease(r.pool.QueryRow(ctx, `SELECT `+releaseColumns+` FROM releases WHERE id = $1`, id))
}

// List returns releases matching filter, newest first, plus the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Release, int, error) {
	where := `WHERE ($1::uuid IS NULL OR artist_id = $1 OR label_admin_id = $1 OR created_by = $1)
AND ($2::text IS NULL OR status = $2)`
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM releases `+where, filter.OwnerID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("releases: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+releaseColumns+` FROM releases `+where+`
ORDER BY created_at DESC, id
LIMIT $3 OFFSET $4`, filter.OwnerID, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("releases: list: %w", err)
	}
	defer rows.Close()
	var out []Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("releases: scan: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("releases: list: %w", err)
	}
	return out, total, nil
}

// Insert stores a new release.
func (r *Repository) Insert(ctx context.Context, rel Release) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO releases (`+releaseColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rel.ID, string(rel.Status), rel.ArtistID, rel.LabelAdminID, rel.DistributionPartnerID,
		rel.Title, rel.Genre, rel.ReleaseDate, rel.Metadata, rel.CreatedBy,
		rel.CreatedAt, rel.UpdatedAt, rel.SubmittedAt)
	if err != nil {
		return fmt.Errorf("releases: insert: %w", err)
	}
	return nil
}

// UpdateMetadata writes the editable fields of rel while its status is one of
// editable. A concurrent status change yields ErrLockedForEditing.
func (r *Repository) UpdateMetadata(ctx context.Context, rel Release, editable []Status) (Release, error) {
	statuses := make([]string, len(editable))
	for i, s := range editable {
		statuses[i] = string(s)
	}
	updated, err := scanRelease(r.pool.QueryRow(ctx, `UPDATE releases
SET title = $2, genre = $3, release_date = $4, metadata = $5, updated_at = $6
WHERE id = $1 AND status = ANY($7)
RETURNING `+releaseColumns,
		rel.ID, rel.Title, rel.Genre, rel.ReleaseDate, rel.Metadata, rel.UpdatedAt, statuses))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Release{}, fmt.Errorf("releases: update metadata: %w", err)
	}
	if _, getErr := r.Get(ctx, rel.ID); getErr != nil {
		return Release{}, getErr
	}
	return Release{}, ErrLockedForEditing
}

// History returns the transitions of a release in the order they were applied.
func (r *Repository) History(ctx context.Context, releaseID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, release_id, from_status, to_status, kind, actor_id, actor_role, reason, created_at
FROM release_status_history WHERE release_id = $1 ORDER BY created_at, id`, releaseID)
	if err != nil {
		return nil, fmt.Errorf("releases: history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var (
			e              HistoryEntry
			from, to, role string
		)
		if err := rows.Scan(&e.ID, &e.ReleaseID, &from, &to, &e.Kind, &e.ActorID, &role, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("releases: scan history: %w", err)
		}
		e.From, e.To, e.ActorRole = Status(from), Status(to), rbac.Role(role)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("releases: history: %w", err)
	}
	return out, nil
}

// CompareAndSetStatus moves the release from change.From to change.To only if
// it is still in change.From. Under READ COMMITTED a racing UPDATE waits on
// the row lock and re-checks the WHERE clause against the committed row, so
// the loser matches 0 rows. The follow-up SELECT tells a lost race (stale)
// from a deleted release.
func (t *txRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, change StatusChange) (Release, error) {
	rel, err := scanRelease(t.tx.QueryRow(ctx, `UPDATE releases
SET status = $3, updated_at = $4, submitted_at = CASE WHEN $5 THEN $4 ELSE submitted_at END
WHERE id = $1 AND status = $2
RETURNING `+releaseColumns, id, string(change.From), string(change.To), change.At, change.SetSubmittedAt))
	if err == nil {
		return rel, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Release{}, fmt.Errorf("releases: set status: %w", err)
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM releases WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Release{}, fmt.Errorf("releases: set status: %w", err)
	}
	if !exists {
		return Release{}, ErrNotFound
	}
	return Release{}, ErrStaleState
}

func (t *txRepo) InsertHistory(ctx context.Context, e HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO release_status_history (id, release_id, from_status, to_status, kind, actor_id, actor_role, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.ReleaseID, string(e.From), string(e.To), e.Kind, e.ActorID, string(e.ActorRole), e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("releases: insert history: %w", err)
	}
	return nil
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	if err := shared.RecordTx(ctx, t.tx, log); err != nil {
		return fmt.Errorf("releases: audit: %w", err)
	}
	return nil
}
