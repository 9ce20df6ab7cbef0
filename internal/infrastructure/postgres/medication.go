package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medassure/go-dispense/internal/domain/medication"
	"github.com/medassure/go-dispense/internal/port"
)

type medicationRepo struct {
	tx pgx.Tx
}

func (r *medicationRepo) FindByID(ctx context.Context, id string) (*medication.Medication, error) {
	m := &medication.Medication{}
	var ingredients []byte
	err := r.tx.QueryRow(ctx, `
		SELECT id, name, form, class, ingredients
		FROM medications
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Form, &m.Class, &ingredients)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query medication: %w", err)
	}
	if len(ingredients) > 0 {
		if err := json.Unmarshal(ingredients, &m.Ingredients); err != nil {
			return nil, fmt.Errorf("parse ingredients: %w", err)
		}
	}
	return m, nil
}
