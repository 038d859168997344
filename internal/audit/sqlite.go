package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-cache-proxy/internal/models"
)

// SQLiteStore writes audit records to a local SQLite database. It stands in for
// DynamoDB in local runs.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS weather_audit (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		city      TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		s3_url    TEXT NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_weather_audit_city ON weather_audit(city, timestamp)`)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, rec models.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO weather_audit (city, timestamp, s3_url) VALUES (?, ?, ?)`,
		rec.City, rec.Timestamp, rec.S3URL)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Records returns the records for city in insertion order.
func (s *SQLiteStore) Records(ctx context.Context, city string) ([]models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT city, timestamp, s3_url FROM weather_audit WHERE city = ? ORDER BY id`, city)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.City, &rec.Timestamp, &rec.S3URL); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
