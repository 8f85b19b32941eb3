package status

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// ErrStatusNotFound is returned by repositories for indexers without a row.
var ErrStatusNotFound = errors.New("indexer status not found")

// Repository persists indexer statuses.
type Repository interface {
	Get(ctx context.Context, indexerID int64) (*types.IndexerStatus, error)
	Upsert(ctx context.Context, status *types.IndexerStatus) error
	All(ctx context.Context) ([]*types.IndexerStatus, error)
}

// MemoryRepository keeps statuses in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[int64]types.IndexerStatus
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[int64]types.IndexerStatus)}
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, indexerID int64) (*types.IndexerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[indexerID]
	if !ok {
		return nil, ErrStatusNotFound
	}
	return &row, nil
}

// Upsert implements Repository.
func (r *MemoryRepository) Upsert(_ context.Context, status *types.IndexerStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rows[status.IndexerID] = *status
	return nil
}

// All implements Repository, ordered by indexer id.
func (r *MemoryRepository) All(_ context.Context) ([]*types.IndexerStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.IndexerStatus, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, &row)
	}
	slices.SortFunc(out, func(a, b *types.IndexerStatus) int {
		return cmp.Compare(a.IndexerID, b.IndexerID)
	})
	return out, nil
}

// SQLRepository stores statuses in the indexer_status table.
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a repository over a migrated database.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const statusColumns = `indexer_id, initial_failure, most_recent_failure, escalation_level, disabled_till, cookies, cookies_expiry`

// Get implements Repository.
func (r *SQLRepository) Get(ctx context.Context, indexerID int64) (*types.IndexerStatus, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+statusColumns+` FROM indexer_status WHERE indexer_id = ?`, indexerID)
	status, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStatusNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get indexer status: %w", err)
	}
	return status, nil
}

// Upsert implements Repository.
func (r *SQLRepository) Upsert(ctx context.Context, s *types.IndexerStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO indexer_status (`+statusColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (indexer_id) DO UPDATE SET
			initial_failure = excluded.initial_failure,
			most_recent_failure = excluded.most_recent_failure,
			escalation_level = excluded.escalation_level,
			disabled_till = excluded.disabled_till,
			cookies = excluded.cookies,
			cookies_expiry = excluded.cookies_expiry,
			updated_at = CURRENT_TIMESTAMP`,
		s.IndexerID,
		toNullTime(s.InitialFailure),
		toNullTime(s.MostRecentFailure),
		s.EscalationLevel,
		toNullTime(s.DisabledTill),
		sql.NullString{String: s.Cookies, Valid: s.Cookies != ""},
		toNullTime(s.CookiesExpiry),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert indexer status: %w", err)
	}
	return nil
}

// All implements Repository, ordered by indexer id.
func (r *SQLRepository) All(ctx context.Context) ([]*types.IndexerStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+statusColumns+` FROM indexer_status ORDER BY indexer_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexer statuses: %w", err)
	}
	defer rows.Close()

	var out []*types.IndexerStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan indexer status: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (*types.IndexerStatus, error) {
	var (
		s                                      types.IndexerStatus
		initial, recent, disabled, cookiesExp sql.NullTime
		cookies                                sql.NullString
	)
	if err := row.Scan(&s.IndexerID, &initial, &recent, &s.EscalationLevel, &disabled, &cookies, &cookiesExp); err != nil {
		return nil, err
	}
	s.InitialFailure = fromNullTime(initial)
	s.MostRecentFailure = fromNullTime(recent)
	s.DisabledTill = fromNullTime(disabled)
	s.CookiesExpiry = fromNullTime(cookiesExp)
	s.Cookies = cookies.String
	return &s, nil
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
