package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medassure/go-dispense/internal/domain/inventory"
	"github.com/medassure/go-dispense/internal/port"
)

type checkRepo struct {
	tx pgx.Tx
}

// FindByIDForUpdate locks the check row so concurrent reconciliation
// attempts of the same check serialize on it.
func (r *checkRepo) FindByIDForUpdate(ctx context.Context, id string) (*inventory.Check, error) {
	c := &inventory.Check{}
	err := r.tx.QueryRow(ctx, `
		SELECT id, performed_by, performed_at, processed
		FROM inventory_checks
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.Processed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory check: %w", err)
	}

	rows, err := r.tx.Query(ctx, `
		SELECT medication_id, counted_quantity
		FROM inventory_check_lines
		WHERE check_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query check lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l inventory.CheckLine
		if err := rows.Scan(&l.MedicationID, &l.CountedQuantity); err != nil {
			return nil, fmt.Errorf("scan check line: %w", err)
		}
		c.Lines = append(c.Lines, l)
	}
	return c, rows.Err()
}

func (r *checkRepo) MarkProcessed(ctx context.Context, id string) error {
	tag, err := r.tx.Exec(ctx, `
		UPDATE inventory_checks SET processed = true WHERE id = $1 AND processed = false
	`, id)
	if err != nil {
		return fmt.Errorf("mark check processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrConcurrencyConflict
	}
	return nil
}
