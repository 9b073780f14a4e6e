package dip

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// PostgresDataStore persists DataInfo snapshots to a SQL table, for masters
// that must survive a process restart and reload DIP state before resuming
// analysis. Grounded directly on internal/state/postgres_store.go: same
// sql.Drivers() pgx presence check, same JSON-column marshaling of
// structured fields, same parameterized-query style.
type PostgresDataStore struct {
	db *sql.DB
}

const createDataInfoTable = `
CREATE TABLE IF NOT EXISTS compss_data_info (
	id                 BIGINT PRIMARY KEY,
	kind               SMALLINT NOT NULL,
	current_version_id BIGINT NOT NULL,
	versions           JSONB NOT NULL,
	cancelled          JSONB NOT NULL,
	deletion_blocks    INTEGER NOT NULL,
	deleted            BOOLEAN NOT NULL
)`

func hasPgxDriver() bool {
	for _, name := range sql.Drivers() {
		if name == "pgx" {
			return true
		}
	}
	return false
}

func NewPostgresDataStore(ctx context.Context, dsn string) (*PostgresDataStore, error) {
	if !hasPgxDriver() {
		return nil, fmt.Errorf("dip: pgx sql driver not registered")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("dip: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("dip: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createDataInfoTable); err != nil {
		return nil, fmt.Errorf("dip: ensure schema: %w", err)
	}
	return &PostgresDataStore{db: db}, nil
}

func (s *PostgresDataStore) Close() error {
	return s.db.Close()
}

func (s *PostgresDataStore) PutDataInfo(ctx context.Context, snap DataInfoSnapshot) error {
	versionsJSON, err := json.Marshal(snap.Versions)
	if err != nil {
		return fmt.Errorf("dip: marshal versions: %w", err)
	}
	cancelledJSON, err := json.Marshal(snap.Cancelled)
	if err != nil {
		return fmt.Errorf("dip: marshal cancelled: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compss_data_info (id, kind, current_version_id, versions, cancelled, deletion_blocks, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			current_version_id = EXCLUDED.current_version_id,
			versions = EXCLUDED.versions,
			cancelled = EXCLUDED.cancelled,
			deletion_blocks = EXCLUDED.deletion_blocks,
			deleted = EXCLUDED.deleted`,
		snap.ID, snap.Kind, snap.CurrentVersionID, versionsJSON, cancelledJSON, snap.DeletionBlocks, snap.Deleted)
	if err != nil {
		return fmt.Errorf("dip: upsert data info: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataInfo(row scanner) (DataInfoSnapshot, error) {
	var snap DataInfoSnapshot
	var versionsJSON, cancelledJSON []byte
	if err := row.Scan(&snap.ID, &snap.Kind, &snap.CurrentVersionID, &versionsJSON, &cancelledJSON, &snap.DeletionBlocks, &snap.Deleted); err != nil {
		return DataInfoSnapshot{}, err
	}
	if err := json.Unmarshal(versionsJSON, &snap.Versions); err != nil {
		return DataInfoSnapshot{}, fmt.Errorf("dip: unmarshal versions: %w", err)
	}
	if err := json.Unmarshal(cancelledJSON, &snap.Cancelled); err != nil {
		return DataInfoSnapshot{}, fmt.Errorf("dip: unmarshal cancelled: %w", err)
	}
	return snap, nil
}

func (s *PostgresDataStore) GetDataInfo(ctx context.Context, id DataID) (DataInfoSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, current_version_id, versions, cancelled, deletion_blocks, deleted
		FROM compss_data_info WHERE id = $1`, id)
	snap, err := scanDataInfo(row)
	if err == sql.ErrNoRows {
		return DataInfoSnapshot{}, false, nil
	}
	if err != nil {
		return DataInfoSnapshot{}, false, fmt.Errorf("dip: get data info: %w", err)
	}
	return snap, true, nil
}

func (s *PostgresDataStore) ListDataInfo(ctx context.Context) ([]DataInfoSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, current_version_id, versions, cancelled, deletion_blocks, deleted
		FROM compss_data_info ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("dip: list data info: %w", err)
	}
	defer rows.Close()
	var out []DataInfoSnapshot
	for rows.Next() {
		snap, err := scanDataInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("dip: scan data info: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresDataStore) DeleteDataInfo(ctx context.Context, id DataID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM compss_data_info WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("dip: delete data info: %w", err)
	}
	return nil
}
