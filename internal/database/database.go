package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/franckalain/foodwise/internal/errors"
	"github.com/franckalain/foodwise/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// DB interface defines the methods our database should implement
type DB interface {
	CreateScan(ctx context.Context, scan *models.ScanRecord) error
	GetScan(ctx context.Context, id string) (*models.ScanRecord, error)
	ListScans(ctx context.Context, userID string, limit int) ([]*models.ScanRecord, error)
	DeleteScan(ctx context.Context, userID, id string) error

	SaveConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error)
	DeleteConversation(ctx context.Context, userID, id string) error

	Close() error
}

// SQLiteDB implements the DB interface
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at dbPath and applies the schema
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	// Pragmas in the DSN apply to every pooled connection
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	slog.Debug("Database schema initialized")
	return nil
}

// CreateScan inserts a new scan, assigning its ID. Scans are never updated.
func (s *SQLiteDB) CreateScan(ctx context.Context, scan *models.ScanRecord) error {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now().UTC()
	}

	points, err := marshalList(scan.AnalysisPoints)
	if err != nil {
		return err
	}
	citations, err := marshalList(scan.Citations)
	if err != nil {
		return err
	}
	var ingredients sql.NullString
	if len(scan.IngredientExplanations) > 0 {
		data, err := marshalList(scan.IngredientExplanations)
		if err != nil {
			return err
		}
		ingredients = sql.NullString{String: data, Valid: true}
	}
	var confidence sql.NullFloat64
	if scan.Confidence != nil {
		confidence = sql.NullFloat64{Float64: *scan.Confidence, Valid: true}
	}

	query := `
		INSERT INTO scans (
			id, user_id, product_name, image_ref, nutri_score,
			analysis_points, citations, ingredients, confidence,
			barcode, mode, scanned_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		scan.ID, scan.UserID, scan.ProductName, scan.ImageRef, scan.NutriScore,
		points, citations, ingredients, confidence,
		scan.Barcode, string(scan.Mode), scan.ScannedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("error inserting scan: %w", err)
	}
	return nil
}

const scanColumns = `
	id, user_id, product_name, image_ref, nutri_score,
	analysis_points, citations, ingredients, confidence,
	barcode, mode, scanned_at
`

// GetScan retrieves a scan by ID
func (s *SQLiteDB) GetScan(ctx context.Context, id string) (*models.ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = ?`, id)
	scan, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("scan", id)
	}
	if err != nil {
		return nil, err
	}
	return scan, nil
}

// ListScans returns a user's scans, newest first. limit <= 0 returns all.
func (s *SQLiteDB) ListScans(ctx context.Context, userID string, limit int) ([]*models.ScanRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + scanColumns + ` FROM scans WHERE user_id = ? ORDER BY scanned_at DESC, id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing scans: %w", err)
	}
	defer rows.Close()

	var results []*models.ScanRecord
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, scan)
	}
	return results, rows.Err()
}

// DeleteScan removes one of the user's scans
func (s *SQLiteDB) DeleteScan(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("error deleting scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("scan", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(row rowScanner) (*models.ScanRecord, error) {
	var (
		scan              models.ScanRecord
		mode              string
		points, citations string
		ingredients       sql.NullString
		confidence        sql.NullFloat64
		scannedAt         int64
	)
	err := row.Scan(
		&scan.ID, &scan.UserID, &scan.ProductName, &scan.ImageRef, &scan.NutriScore,
		&points, &citations, &ingredients, &confidence,
		&scan.Barcode, &mode, &scannedAt,
	)
	if err != nil {
		return nil, err
	}

	scan.Mode = models.AnalysisMode(mode)
	scan.ScannedAt = time.Unix(0, scannedAt).UTC()
	if confidence.Valid {
		c := confidence.Float64
		scan.Confidence = &c
	}
	if err := json.Unmarshal([]byte(points), &scan.AnalysisPoints); err != nil {
		return nil, fmt.Errorf("error decoding analysis points: %w", err)
	}
	if err := json.Unmarshal([]byte(citations), &scan.Citations); err != nil {
		return nil, fmt.Errorf("error decoding citations: %w", err)
	}
	if ingredients.Valid {
		if err := json.Unmarshal([]byte(ingredients.String), &scan.IngredientExplanations); err != nil {
			return nil, fmt.Errorf("error decoding ingredients: %w", err)
		}
	}
	return &scan, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("error encoding list: %w", err)
	}
	return string(data), nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
