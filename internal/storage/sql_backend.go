package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/seriesd-io/seriesd/internal/config"
	"github.com/seriesd-io/seriesd/internal/series"
)

// datapointTablePrefix namespaces the dynamically created per-series tables.
const datapointTablePrefix = "sd_dp_"

// SQLBackend implements the dynamic-SQL no-history storage strategy on
// PostgreSQL. EnsureSchema creates one table per series; every datapoint
// write inserts a new row with no conflict detection or update-in-place, so
// a second write for the same logical entity simply appends.
type SQLBackend struct {
	conn   *Connection
	logger *slog.Logger
}

// Compile-time interface assertion.
var _ series.Backend = (*SQLBackend)(nil)

// NewSQLBackend creates the PostgreSQL no-history backend.
// Returns ErrNoDatabaseConnection if conn is nil.
func NewSQLBackend(conn *Connection) (*SQLBackend, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &SQLBackend{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("SERIESD_LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// tableName derives the per-series table name from the series' internal id.
// The internal id is stable and opaque, so renaming a series never touches
// storage layout.
func tableName(ds *series.DataSeries) string {
	return datapointTablePrefix + strings.ReplaceAll(ds.ID.String(), "-", "")
}

// EnsureSchema creates the datapoint table for a series if it does not exist.
func (b *SQLBackend) EnsureSchema(ctx context.Context, ds *series.DataSeries) error {
	table := pq.QuoteIdentifier(tableName(ds))

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          uuid PRIMARY KEY,
			external_id text NOT NULL,
			inserted_at timestamptz NOT NULL DEFAULT now(),
			payload     jsonb NOT NULL
		)
	`, table)

	if _, err := b.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create datapoint table for series %q: %w", ds.ExternalID, err)
	}

	b.logger.Debug("Datapoint table ensured",
		slog.String("series", ds.ExternalID),
		slog.String("table", tableName(ds)),
	)

	return nil
}

// WriteDatapoint appends one row and returns its opaque handle.
func (b *SQLBackend) WriteDatapoint(
	ctx context.Context,
	ds *series.DataSeries,
	values map[string]any,
) (string, error) {
	externalID, _ := values["external_id"].(string)

	payload, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode datapoint payload: %w", err)
	}

	handle := uuid.New().String()
	table := pq.QuoteIdentifier(tableName(ds))

	query := fmt.Sprintf(
		`INSERT INTO %s (id, external_id, payload) VALUES ($1, $2, $3)`,
		table,
	)

	if _, err := b.conn.ExecContext(ctx, query, handle, externalID, payload); err != nil {
		return "", fmt.Errorf("failed to write datapoint for series %q: %w", ds.ExternalID, err)
	}

	return handle, nil
}

// Exists reports whether backend storage exists for the series external id.
// The check resolves the series through metadata because table names derive
// from internal ids.
func (b *SQLBackend) Exists(ctx context.Context, seriesExternalID string) (bool, error) {
	var id uuid.UUID

	err := b.conn.QueryRowContext(ctx,
		`SELECT id FROM data_series WHERE external_id = $1`, seriesExternalID,
	).Scan(&id)
	if err != nil {
		return false, nil //nolint:nilerr // unresolvable series has no storage
	}

	table := datapointTablePrefix + strings.ReplaceAll(id.String(), "-", "")

	var regclass *string

	err = b.conn.QueryRowContext(ctx, `SELECT to_regclass($1)`, table).Scan(&regclass)
	if err != nil {
		return false, fmt.Errorf("failed to check datapoint table %q: %w", table, err)
	}

	return regclass != nil, nil
}

// Delete drops the series' datapoint table. Dropping a table that is already
// gone is not an error, so repeated deletes stay idempotent.
func (b *SQLBackend) Delete(ctx context.Context, ds *series.DataSeries) error {
	table := pq.QuoteIdentifier(tableName(ds))

	if _, err := b.conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("failed to drop datapoint table for series %q: %w", ds.ExternalID, err)
	}

	b.logger.Debug("Datapoint table dropped",
		slog.String("series", ds.ExternalID),
		slog.String("table", tableName(ds)),
	)

	return nil
}
