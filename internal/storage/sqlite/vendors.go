package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/procureflow/backend/internal/storage/models"
	"github.com/procureflow/backend/pkg/apperr"
	"github.com/procureflow/backend/pkg/logger"
)

func (c *Client) CreateVendor(v *models.Vendor) error {
	query := `
		INSERT INTO vendors (id, name, email, company, category, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		v.ID,
		v.Name,
		strings.ToLower(strings.TrimSpace(v.Email)),
		v.Company,
		v.Category,
		v.Phone,
		v.Address,
		v.CreatedAt.Unix(),
	)

	if isUniqueViolation(err) {
		return apperr.InvalidInput("vendor with this email already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to insert vendor: %w", err)
	}

	logger.Info("Vendor created", zap.String("vendor_id", v.ID), zap.String("email", v.Email))
	return nil
}

func (c *Client) GetVendor(id string) (*models.Vendor, error) {
	row := c.db.QueryRow(`
		SELECT id, name, email, company, category, phone, address, created_at
		FROM vendors WHERE id = ?
	`, id)

	return scanVendor(row)
}

func (c *Client) ListVendors() ([]models.Vendor, error) {
	rows, err := c.db.Query(`
		SELECT id, name, email, company, category, phone, address, created_at
		FROM vendors ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	defer rows.Close()

	var vendors []models.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, *v)
	}

	return vendors, rows.Err()
}

// GetVendorsByIDs resolves a set of vendor references, silently skipping ids
// that no longer exist.
func (c *Client) GetVendorsByIDs(ids []string) ([]models.Vendor, error) {
	vendors := make([]models.Vendor, 0, len(ids))
	for _, id := range ids {
		v, err := c.GetVendor(id)
		if apperr.IsKind(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, *v)
	}
	return vendors, nil
}

// FindVendorByAddress resolves a normalized sender address against the
// directory with substring containment in either direction, tolerating
// subaddressing and formatting differences. Returns nil, nil when no vendor
// matches.
func (c *Client) FindVendorByAddress(address string) (*models.Vendor, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}

	vendors, err := c.ListVendors()
	if err != nil {
		return nil, err
	}

	for i := range vendors {
		email := strings.ToLower(vendors[i].Email)
		if strings.Contains(address, email) || strings.Contains(email, address) {
			return &vendors[i], nil
		}
	}

	return nil, nil
}

func (c *Client) UpdateVendor(v *models.Vendor) error {
	result, err := c.db.Exec(`
		UPDATE vendors SET name = ?, email = ?, company = ?, category = ?, phone = ?, address = ?
		WHERE id = ?
	`,
		v.Name,
		strings.ToLower(strings.TrimSpace(v.Email)),
		v.Company,
		v.Category,
		v.Phone,
		v.Address,
		v.ID,
	)

	if isUniqueViolation(err) {
		return apperr.InvalidInput("vendor with this email already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to update vendor: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("Vendor not found")
	}

	return nil
}

// DeleteVendor removes a directory entry. RFP responses referencing it keep
// their cached display name; the reference degrades to "unknown vendor".
func (c *Client) DeleteVendor(id string) error {
	result, err := c.db.Exec(`DELETE FROM vendors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vendor: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return apperr.NotFound("Vendor not found")
	}

	logger.Info("Vendor deleted", zap.String("vendor_id", id))
	return nil
}

func scanVendor(row rowScanner) (*models.Vendor, error) {
	var v models.Vendor
	var createdAt int64

	err := row.Scan(&v.ID, &v.Name, &v.Email, &v.Company, &v.Category, &v.Phone, &v.Address, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Vendor not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan vendor: %w", err)
	}

	v.CreatedAt = time.Unix(createdAt, 0)
	return &v, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
