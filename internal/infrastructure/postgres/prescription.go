package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medassure/go-dispense/internal/domain/prescription"
	"github.com/medassure/go-dispense/internal/port"
)

type prescriptionRepo struct {
	tx pgx.Tx
}

func (r *prescriptionRepo) FindByID(ctx context.Context, id string) (*prescription.Prescription, error) {
	rx := &prescription.Prescription{}
	err := r.tx.QueryRow(ctx, `
		SELECT id, insured_person_id, created_at
		FROM prescriptions
		WHERE id = $1
	`, id).Scan(&rx.ID, &rx.InsuredPersonID, &rx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query prescription: %w", err)
	}

	rows, err := r.tx.Query(ctx, `
		SELECT medication_id, quantity
		FROM prescription_lines
		WHERE prescription_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query prescription lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line prescription.Line
		if err := rows.Scan(&line.MedicationID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan prescription line: %w", err)
		}
		rx.Lines = append(rx.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rx, nil
}
