package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/txprober/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode so API reads don't block probe writes
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_hash TEXT,
		account INTEGER NOT NULL,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		submitted_at_ms INTEGER NOT NULL,
		completed_at_ms INTEGER NOT NULL,
		latency_seconds REAL,
		success INTEGER NOT NULL DEFAULT 0,
		gas_price_gwei REAL DEFAULT 0,
		gas_used INTEGER DEFAULT 0,
		block_number INTEGER DEFAULT 0,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_probes_completed ON probes(completed_at_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_probes_hash ON probes(tx_hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// RecordProbe appends a probe record and sets rec.ID.
func (s *SQLiteStorage) RecordProbe(ctx context.Context, rec *types.ProbeRecord) error {
	var latency sql.NullFloat64
	if rec.LatencySeconds != nil {
		latency = sql.NullFloat64{Float64: *rec.LatencySeconds, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO probes (
			tx_hash, account, sender, receiver, submitted_at_ms, completed_at_ms,
			latency_seconds, success, gas_price_gwei, gas_used, block_number, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nullString(rec.TxHash), rec.Account, rec.Sender, rec.Receiver,
		rec.SubmittedAt.UnixMilli(), rec.CompletedAt.UnixMilli(),
		latency, boolToInt(rec.Success), rec.GasPriceGwei,
		nullInt64(int64(rec.GasUsed)), nullInt64(int64(rec.BlockNumber)), nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("insert probe: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read probe id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListProbes returns a page of probes, newest first.
func (s *SQLiteStorage) ListProbes(ctx context.Context, limit, offset int) (*types.PaginatedProbes, error) {
	// Get total count
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM probes").Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tx_hash, account, sender, receiver, submitted_at_ms, completed_at_ms,
			latency_seconds, success, COALESCE(gas_price_gwei, 0), gas_used, block_number, error_message
		FROM probes
		ORDER BY completed_at_ms DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	probes := []types.ProbeRecord{}
	for rows.Next() {
		var rec types.ProbeRecord
		var txHash, errMsg sql.NullString
		var submittedMs, completedMs int64
		var latency sql.NullFloat64
		var success int
		var gasUsed, blockNumber sql.NullInt64

		err := rows.Scan(&rec.ID, &txHash, &rec.Account, &rec.Sender, &rec.Receiver,
			&submittedMs, &completedMs, &latency, &success, &rec.GasPriceGwei,
			&gasUsed, &blockNumber, &errMsg)
		if err != nil {
			return nil, err
		}

		rec.SubmittedAt = time.UnixMilli(submittedMs).UTC()
		rec.CompletedAt = time.UnixMilli(completedMs).UTC()
		rec.Success = success != 0
		if txHash.Valid {
			rec.TxHash = txHash.String
		}
		if latency.Valid {
			v := latency.Float64
			rec.LatencySeconds = &v
		}
		if gasUsed.Valid {
			rec.GasUsed = uint64(gasUsed.Int64)
		}
		if blockNumber.Valid {
			rec.BlockNumber = uint64(blockNumber.Int64)
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}

		probes = append(probes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &types.PaginatedProbes{
		Probes: probes,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// Helper functions

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullInt64(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
