package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/port"
)

type inventoryRepo struct {
	tx pgx.Tx
}

func (r *inventoryRepo) GetItem(ctx context.Context, medicationID string) (*inventory.Item, error) {
	return r.getItem(ctx, medicationID, false)
}

// GetItemForUpdate locks the aggregate row until the transaction ends; every
// writer for a medication goes through here, so mutations serialize.
func (r *inventoryRepo) GetItemForUpdate(ctx context.Context, medicationID string) (*inventory.Item, error) {
	return r.getItem(ctx, medicationID, true)
}

func (r *inventoryRepo) getItem(ctx context.Context, medicationID string, forUpdate bool) (*inventory.Item, error) {
	query := `
		SELECT medication_id, quantity, version, updated_at
		FROM inventory_items
		WHERE medication_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	item := &inventory.Item{}
	err := r.tx.QueryRow(ctx, query, medicationID).Scan(
		&item.MedicationID, &item.Quantity, &item.Version, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory item: %w", err)
	}
	return item, nil
}

func (r *inventoryRepo) ListLots(ctx context.Context, medicationID string) ([]inventory.Lot, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, medication_id, batch_number, expiry_date, quantity, received_at
		FROM inventory_lots
		WHERE medication_id = $1
		ORDER BY expiry_date ASC NULLS LAST, received_at ASC, id ASC
	`, medicationID)
	if err != nil {
		return nil, fmt.Errorf("query inventory lots: %w", err)
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		var lot inventory.Lot
		if err := rows.Scan(&lot.ID, &lot.MedicationID, &lot.BatchNumber, &lot.ExpiryDate, &lot.Quantity, &lot.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan inventory lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *inventoryRepo) CreateItem(ctx context.Context, item *inventory.Item) error {
	err := r.tx.QueryRow(ctx, `
		INSERT INTO inventory_items (medication_id, quantity, version)
		VALUES ($1, $2, 0)
		RETURNING version, updated_at
	`, item.MedicationID, item.Quantity).Scan(&item.Version, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return port.ErrAlreadyExists
		}
		return fmt.Errorf("insert inventory item: %w", err)
	}
	return nil
}

// SaveItem writes the aggregate behind a version check. Zero rows affected
// means another transaction moved the row since we read it.
func (r *inventoryRepo) SaveItem(ctx context.Context, item *inventory.Item) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE inventory_items
		SET quantity = $2, version = version + 1, updated_at = NOW()
		WHERE medication_id = $1 AND version = $3 AND $2 >= 0
	`, item.MedicationID, item.Quantity, item.Version)
	if err != nil {
		return fmt.Errorf("update inventory item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrConcurrencyConflict
	}
	item.Version++
	return nil
}

func (r *inventoryRepo) InsertLot(ctx context.Context, lot *inventory.Lot) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO inventory_lots (id, medication_id, batch_number, expiry_date, quantity, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, lot.ID, lot.MedicationID, lot.BatchNumber, lot.ExpiryDate, lot.Quantity, lot.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert inventory lot: %w", err)
	}
	return nil
}

func (r *inventoryRepo) UpdateLotQuantity(ctx context.Context, lotID string, quantity int64) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE inventory_lots SET quantity = $2 WHERE id = $1
	`, lotID, quantity)
	if err != nil {
		return fmt.Errorf("update inventory lot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrNotFound
	}
	return nil
}
