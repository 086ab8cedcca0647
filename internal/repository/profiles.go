package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfileReader reads participant snapshots outside any engine transaction.
type ProfileReader struct {
	db *pgxpool.Pool
}

// NewProfileReader constructs a ProfileReader.
func NewProfileReader(db *pgxpool.Pool) *ProfileReader {
	return &ProfileReader{db: db}
}

func (r *ProfileReader) Participant(ctx context.Context, id string) (*model.Participant, error) {
	var p model.Participant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, cpf, birth_date, sex FROM participants WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CPF, &p.BirthDate, &p.Sex)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return &p, nil
}
