package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type RecipientRepositoryInterface interface {
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// RecipientRepository updates delivery outcomes. Both updates only touch
// PENDING rows so a resolved recipient never changes again; a row resolved
// by someone else yields ErrStaleTransition.
type RecipientRepository struct {
	DB *sql.DB
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE recipients
        SET status = 'SENT', sent_at = $2, error = NULL
        WHERE id = $1 AND status = 'PENDING'
    `, id, at)
	if err != nil {
		return fmt.Errorf("mark recipient %s sent: %w", id, err)
	}
	return expectRecipient(res, id)
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE recipients
        SET status = 'FAILED', error = $2
        WHERE id = $1 AND status = 'PENDING'
    `, id, reason)
	if err != nil {
		return fmt.Errorf("mark recipient %s failed: %w", id, err)
	}
	return expectRecipient(res, id)
}

func expectRecipient(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: recipient %s", ErrStaleTransition, id)
	}
	return nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
