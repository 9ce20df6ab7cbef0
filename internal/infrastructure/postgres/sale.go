package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/medassure/go-dispense/internal/domain/sale"
	"github.com/medassure/go-dispense/internal/port"
)

type saleRepo struct {
	tx pgx.Tx
}

// Insert persists a sale with its details. The unique index on
// prescription_id makes double fulfillment impossible even when two
// transactions race past the pre-check.
func (r *saleRepo) Insert(ctx context.Context, s *sale.Sale) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO sales (id, prescription_id, total, patient_share, insurer_share, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.PrescriptionID,
		s.Total.StringFixed(2), s.PatientShare.StringFixed(2), s.InsurerShare.StringFixed(2),
		s.UserID, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return port.ErrAlreadyExists
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for i, d := range s.Details {
		_, err := r.tx.Exec(ctx, `
			INSERT INTO sale_details (sale_id, position, medication_id, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, s.ID, i, d.MedicationID, d.Quantity, d.UnitPrice.StringFixed(2), d.Subtotal.StringFixed(2))
		if err != nil {
			return fmt.Errorf("insert sale detail: %w", err)
		}
	}
	return nil
}

func (r *saleRepo) FindByID(ctx context.Context, id string) (*sale.Sale, error) {
	return r.find(ctx, "id = $1", id)
}

func (r *saleRepo) FindByPrescriptionID(ctx context.Context, prescriptionID string) (*sale.Sale, error) {
	return r.find(ctx, "prescription_id = $1", prescriptionID)
}

func (r *saleRepo) find(ctx context.Context, where, arg string) (*sale.Sale, error) {
	s := &sale.Sale{}
	var total, patientShare, insurerShare string
	err := r.tx.QueryRow(ctx, `
		SELECT id, prescription_id, total::text, patient_share::text, insurer_share::text, user_id, created_at
		FROM sales
		WHERE `+where, arg).Scan(
		&s.ID, &s.PrescriptionID, &total, &patientShare, &insurerShare, &s.UserID, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	if s.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse sale total: %w", err)
	}
	if s.PatientShare, err = decimal.NewFromString(patientShare); err != nil {
		return nil, fmt.Errorf("parse patient share: %w", err)
	}
	if s.InsurerShare, err = decimal.NewFromString(insurerShare); err != nil {
		return nil, fmt.Errorf("parse insurer share: %w", err)
	}

	rows, err := r.tx.Query(ctx, `
		SELECT medication_id, quantity, unit_price::text, subtotal::text
		FROM sale_details
		WHERE sale_id = $1
		ORDER BY position ASC
	`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("query sale details: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d sale.Detail
		var unitPrice, subtotal string
		if err := rows.Scan(&d.MedicationID, &d.Quantity, &unitPrice, &subtotal); err != nil {
			return nil, fmt.Errorf("scan sale detail: %w", err)
		}
		if d.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("parse unit price: %w", err)
		}
		if d.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return nil, fmt.Errorf("parse subtotal: %w", err)
		}
		s.Details = append(s.Details, d)
	}
	return s, rows.Err()
}
