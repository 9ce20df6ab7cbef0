package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/medassure/go-dispense/internal/domain/insured"
	"github.com/medassure/go-dispense/internal/port"
)

type insuredRepo struct {
	tx pgx.Tx
}

func (r *insuredRepo) FindByID(ctx context.Context, id string) (*insured.Person, error) {
	query := `
		SELECT id, name, date_of_birth, status, person_type, created_at
		FROM insured_persons
		WHERE id = $1
	`

	p := &insured.Person{}
	err := r.tx.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.DateOfBirth, &p.Status, &p.Type, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query insured person: %w", err)
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("insured person %s has unknown type %q", p.ID, p.Type)
	}
	return p, nil
}
