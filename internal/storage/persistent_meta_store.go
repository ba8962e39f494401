package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/seriesd-io/seriesd/internal/config"
	"github.com/seriesd-io/seriesd/internal/series"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// PersistentMetaStore implements series.MetaStore with a PostgreSQL backend.
// External-id uniqueness is enforced by unique indexes (data_series.external_id
// globally, facts (data_series_id, external_id) per series), so concurrent
// creates for the same id yield exactly one success regardless of process
// count, and the constraint survives restarts.
type PersistentMetaStore struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ series.MetaStore = (*PersistentMetaStore)(nil)

// NewPersistentMetaStore creates the production metadata store.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewPersistentMetaStore(conn *Connection) (*PersistentMetaStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentMetaStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("SERIESD_LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Close closes the underlying connection pool.
func (s *PersistentMetaStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}

	return nil
}

// HealthCheck verifies database connectivity.
func (s *PersistentMetaStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// CreateSeries stores a new series definition.
// Returns series.ErrConflict when the external id is already taken.
func (s *PersistentMetaStore) CreateSeries(ctx context.Context, ds *series.DataSeries) error {
	query := `
		INSERT INTO data_series (id, external_id, name, backend, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.conn.ExecContext(ctx, query, ds.ID, ds.ExternalID, ds.Name, string(ds.Backend), ds.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", series.ErrConflict, ds.ExternalID)
		}

		return fmt.Errorf("failed to create data series %q: %w", ds.ExternalID, err)
	}

	s.logger.Info("Data series created",
		slog.String("external_id", ds.ExternalID),
		slog.String("backend", string(ds.Backend)),
	)

	return nil
}

// SeriesByExternalID loads a series with its field registry populated, in
// field creation order. Returns series.ErrNotFound for unresolvable ids.
func (s *PersistentMetaStore) SeriesByExternalID(
	ctx context.Context,
	externalID string,
) (*series.DataSeries, error) {
	ds := &series.DataSeries{}

	var backend string

	err := s.conn.QueryRowContext(ctx, `
		SELECT id, external_id, name, backend, created_at
		FROM data_series
		WHERE external_id = $1
	`, externalID).Scan(&ds.ID, &ds.ExternalID, &ds.Name, &backend, &ds.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", series.ErrNotFound, externalID)
		}

		return nil, fmt.Errorf("failed to load data series %q: %w", externalID, err)
	}

	ds.Backend = series.BackendKind(backend)

	fields, err := s.listFields(ctx, ds.ID)
	if err != nil {
		return nil, err
	}

	ds.Fields = fields

	return ds, nil
}

// DeleteSeriesByExternalID removes a series and, via ON DELETE CASCADE, its
// fields. Returns the removed series, or nil when the id was already absent.
func (s *PersistentMetaStore) DeleteSeriesByExternalID(
	ctx context.Context,
	externalID string,
) (*series.DataSeries, error) {
	ds, err := s.SeriesByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, series.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	res, err := s.conn.ExecContext(ctx, `DELETE FROM data_series WHERE external_id = $1`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete data series %q: %w", externalID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		// Lost a race with a concurrent delete; already absent is success.
		return nil, nil
	}

	s.logger.Info("Data series deleted", slog.String("external_id", externalID))

	return ds, nil
}

// addFieldAttempts bounds how often AddField retries after losing a
// position slot to a concurrent insert on the same series.
const addFieldAttempts = 5

// AddField appends a field definition to a series' registry.
// Returns series.ErrDuplicateField when the field external id is reused.
//
// The position is computed inside the insert. Two concurrent inserts can
// compute the same slot; the unique index on (data_series_id, position)
// rejects the loser, which retries with a fresh slot.
func (s *PersistentMetaStore) AddField(
	ctx context.Context,
	seriesID uuid.UUID,
	def *series.FieldDefinition,
) error {
	query := `
		INSERT INTO facts (id, data_series_id, external_id, name, kind, optional, max_inline_size, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM facts WHERE data_series_id = $2))
	`

	for attempt := 0; attempt < addFieldAttempts; attempt++ {
		_, err := s.conn.ExecContext(ctx, query,
			def.ID, seriesID, def.ExternalID, def.Name, string(def.Kind), def.Optional, def.MaxInlineSize,
		)
		if err == nil {
			return nil
		}

		if constraint, ok := uniqueViolationConstraint(err); ok {
			if constraint == "idx_facts_series_position" {
				continue
			}

			return fmt.Errorf("%w: %q", series.ErrDuplicateField, def.ExternalID)
		}

		return fmt.Errorf("failed to add field %q: %w", def.ExternalID, err)
	}

	return fmt.Errorf("failed to add field %q: no free position after %d attempts", def.ExternalID, addFieldAttempts)
}

// listFields loads a series' field definitions in creation order.
func (s *PersistentMetaStore) listFields(ctx context.Context, seriesID uuid.UUID) ([]series.FieldDefinition, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, external_id, name, kind, optional, max_inline_size
		FROM facts
		WHERE data_series_id = $1
		ORDER BY position ASC
	`, seriesID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	fields := []series.FieldDefinition{}

	for rows.Next() {
		var (
			def  series.FieldDefinition
			kind string
		)

		if err := rows.Scan(&def.ID, &def.ExternalID, &def.Name, &kind, &def.Optional, &def.MaxInlineSize); err != nil {
			return nil, fmt.Errorf("failed to scan field definition: %w", err)
		}

		def.Kind = series.FieldKind(kind)
		fields = append(fields, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate field definitions: %w", err)
	}

	return fields, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	_, ok := uniqueViolationConstraint(err)

	return ok
}

// uniqueViolationConstraint returns the name of the violated constraint when
// err is a PostgreSQL unique constraint violation.
func uniqueViolationConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return pqErr.Constraint, true
	}

	return "", false
}
