package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/lifecycle"
	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/logger"
)

// Client owns RFP documents (with their embedded vendor responses) and the
// vendor directory. Open-ended structures are stored as JSON columns;
// responses live in their own table whose rowid order is arrival order.
type Client struct {
	db    *sql.DB
	locks sync.Map // rfp id -> *sync.Mutex
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// LockRFP serializes writers for a single RFP id. Mutating operations
// (describe, send, poll, compare, override) hold it across their
// read-check-write window; unrelated RFPs proceed in parallel.
func (c *Client) LockRFP(id string) func() {
	muAny, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rfps (
		id TEXT PRIMARY KEY,
		original_text TEXT NOT NULL DEFAULT '',
		structured TEXT NOT NULL DEFAULT '{}',
		chosen_vendors TEXT NOT NULL DEFAULT '[]',
		comparison TEXT,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rfps_status ON rfps(status);
	CREATE INDEX IF NOT EXISTS idx_rfps_created ON rfps(created_at);

	CREATE TABLE IF NOT EXISTS rfp_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rfp_id TEXT NOT NULL,
		vendor_id TEXT,
		vendor_name TEXT NOT NULL DEFAULT '',
		received_at INTEGER NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		from_address TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (rfp_id) REFERENCES rfps(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_responses_rfp ON rfp_responses(rfp_id);

	CREATE TABLE IF NOT EXISTS vendors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'General',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_vendors_email ON vendors(lower(email));
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateRFP(rfp *models.RFP) error {
	structured, err := json.Marshal(rfp.Structured)
	if err != nil {
		return fmt.Errorf("failed to marshal structured content: %w", err)
	}
	chosen, err := json.Marshal(rfp.ChosenVendorIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal chosen vendors: %w", err)
	}

	query := `
		INSERT INTO rfps (id, original_text, structured, chosen_vendors, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		rfp.ID,
		rfp.OriginalText,
		string(structured),
		string(chosen),
		rfp.Status.String(),
		rfp.CreatedAt.Unix(),
		rfp.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert rfp: %w", err)
	}

	logger.Debug("RFP created", zap.String("rfp_id", rfp.ID))
	return nil
}

func (c *Client) GetRFP(id string) (*models.RFP, error) {
	query := `
		SELECT id, original_text, structured, chosen_vendors, comparison, status, created_at, updated_at
		FROM rfps WHERE id = ?
	`

	row := c.db.QueryRow(query, id)
	rfp, err := scanRFP(row)
	if err != nil {
		return nil, err
	}

	responses, err := c.getResponses(id)
	if err != nil {
		return nil, err
	}
	rfp.Responses = responses

	return rfp, nil
}

func (c *Client) ListRFPs() ([]models.RFP, error) {
	return c.listRFPs(`
		SELECT id, original_text, structured, chosen_vendors, comparison, status, created_at, updated_at
		FROM rfps ORDER BY created_at DESC
	`)
}

// ListRFPsByStatus returns RFPs in any of the given statuses, newest first.
func (c *Client) ListRFPsByStatus(statuses ...lifecycle.Status) ([]models.RFP, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(statuses))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(statuses))
	for _, s := range statuses {
		args = append(args, s.String())
	}

	query := fmt.Sprintf(`
		SELECT id, original_text, structured, chosen_vendors, comparison, status, created_at, updated_at
		FROM rfps WHERE status IN (%s) ORDER BY created_at DESC
	`, placeholders)

	return c.listRFPs(query, args...)
}

func (c *Client) listRFPs(query string, args ...any) ([]models.RFP, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rfps: %w", err)
	}
	defer rows.Close()

	var rfps []models.RFP
	for rows.Next() {
		rfp, err := scanRFP(rows)
		if err != nil {
			return nil, err
		}

		responses, err := c.getResponses(rfp.ID)
		if err != nil {
			return nil, err
		}
		rfp.Responses = responses

		rfps = append(rfps, *rfp)
	}

	return rfps, rows.Err()
}

func (c *Client) DeleteRFP(id string) error {
	result, err := c.db.Exec(`DELETE FROM rfps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rfp: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("RFP not found")
	}

	logger.Info("RFP deleted", zap.String("rfp_id", id))
	return nil
}

// UpdateRFPDescription saves the user text and the structured content
// produced from it, and moves the RFP to the given status.
func (c *Client) UpdateRFPDescription(id, originalText string, structured models.StructuredContent, status lifecycle.Status) error {
	data, err := json.Marshal(structured)
	if err != nil {
		return fmt.Errorf("failed to marshal structured content: %w", err)
	}

	return c.updateRFP(id, `
		UPDATE rfps SET original_text = ?, structured = ?, status = ?, updated_at = ? WHERE id = ?
	`, originalText, string(data), status.String(), time.Now().Unix(), id)
}

// UpdateRFPStructured re-saves customized structured content without touching
// the original text or status.
func (c *Client) UpdateRFPStructured(id string, structured models.StructuredContent) error {
	data, err := json.Marshal(structured)
	if err != nil {
		return fmt.Errorf("failed to marshal structured content: %w", err)
	}

	return c.updateRFP(id, `
		UPDATE rfps SET structured = ?, updated_at = ? WHERE id = ?
	`, string(data), time.Now().Unix(), id)
}

func (c *Client) SetChosenVendors(id string, vendorIDs []string, status lifecycle.Status) error {
	data, err := json.Marshal(vendorIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal chosen vendors: %w", err)
	}

	return c.updateRFP(id, `
		UPDATE rfps SET chosen_vendors = ?, status = ?, updated_at = ? WHERE id = ?
	`, string(data), status.String(), time.Now().Unix(), id)
}

func (c *Client) SetStatus(id string, status lifecycle.Status) error {
	return c.updateRFP(id, `
		UPDATE rfps SET status = ?, updated_at = ? WHERE id = ?
	`, status.String(), time.Now().Unix(), id)
}

func (c *Client) SetComparison(id string, result *models.ComparisonResult, status lifecycle.Status) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal comparison result: %w", err)
	}

	return c.updateRFP(id, `
		UPDATE rfps SET comparison = ?, status = ?, updated_at = ? WHERE id = ?
	`, string(data), status.String(), time.Now().Unix(), id)
}

// AppendResponse appends a vendor response to the RFP's log. Insertion order
// is preserved by the autoincrement rowid; dedup is the reconciler's job and
// happens before this call, under the RFP lock.
func (c *Client) AppendResponse(rfpID string, resp *models.VendorResponse) error {
	query := `
		INSERT INTO rfp_responses (rfp_id, vendor_id, vendor_name, received_at, subject, from_address, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var vendorID any
	if resp.VendorID != nil {
		vendorID = *resp.VendorID
	}

	_, err := c.db.Exec(
		query,
		rfpID,
		vendorID,
		resp.VendorName,
		resp.ReceivedAt.Unix(),
		resp.Subject,
		resp.FromAddress,
		resp.Body,
	)

	if err != nil {
		return fmt.Errorf("failed to append response: %w", err)
	}

	_, err = c.db.Exec(`UPDATE rfps SET updated_at = ? WHERE id = ?`, time.Now().Unix(), rfpID)
	if err != nil {
		return fmt.Errorf("failed to touch rfp: %w", err)
	}

	logger.Debug("Vendor response appended",
		zap.String("rfp_id", rfpID),
		zap.String("from", resp.FromAddress),
	)
	return nil
}

func (c *Client) getResponses(rfpID string) ([]models.VendorResponse, error) {
	query := `
		SELECT vendor_id, vendor_name, received_at, subject, from_address, body
		FROM rfp_responses WHERE rfp_id = ? ORDER BY id ASC
	`

	rows, err := c.db.Query(query, rfpID)
	if err != nil {
		return nil, fmt.Errorf("failed to get responses: %w", err)
	}
	defer rows.Close()

	var responses []models.VendorResponse
	for rows.Next() {
		var r models.VendorResponse
		var vendorID sql.NullString
		var receivedAt int64

		err := rows.Scan(&vendorID, &r.VendorName, &receivedAt, &r.Subject, &r.FromAddress, &r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}

		if vendorID.Valid {
			id := vendorID.String
			r.VendorID = &id
		}
		r.ReceivedAt = time.Unix(receivedAt, 0)
		responses = append(responses, r)
	}

	return responses, rows.Err()
}

func (c *Client) updateRFP(id, query string, args ...any) error {
	result, err := c.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update rfp: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("RFP not found")
	}

	logger.Debug("RFP updated", zap.String("rfp_id", id))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRFP(row rowScanner) (*models.RFP, error) {
	var rfp models.RFP
	var structured, chosen string
	var comparison sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&rfp.ID,
		&rfp.OriginalText,
		&structured,
		&chosen,
		&comparison,
		&status,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("RFP not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rfp: %w", err)
	}

	if err := json.Unmarshal([]byte(structured), &rfp.Structured); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}
	if err := json.Unmarshal([]byte(chosen), &rfp.ChosenVendorIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chosen vendors: %w", err)
	}
	if comparison.Valid {
		var result models.ComparisonResult
		if err := json.Unmarshal([]byte(comparison.String), &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comparison result: %w", err)
		}
		rfp.Comparison = &result
	}

	parsed, err := lifecycle.Parse(status)
	if err != nil {
		return nil, fmt.Errorf("stored rfp has invalid status %q", status)
	}
	rfp.Status = parsed
	rfp.CreatedAt = time.Unix(createdAt, 0)
	rfp.UpdatedAt = time.Unix(updatedAt, 0)

	return &rfp, nil
}
