package postgres

import (
	"context"

	"github.com/emberwallet/core/internal/model"
)

// PaymentRepo implements PaymentRepository using PostgreSQL.
type PaymentRepo struct{ db *DB }

// NewPaymentRepo constructs a payment-history repository.
func NewPaymentRepo(db *DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Append stores a settled payment.
func (r *PaymentRepo) Append(ctx context.Context, p model.Payment) error {
	const q = `
INSERT INTO payments (id, created_at, method, amount_msat, fee_msat, target)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.db.Pool.Exec(ctx, q, p.ID, p.CreatedAt, string(p.Method),
		int64(p.Amount), int64(p.Fee), p.Target)
	return err
}

// List returns newest payments first, at most limit. A limit of zero
// or less returns everything, same as the in-memory store.
func (r *PaymentRepo) List(ctx context.Context, limit int) ([]model.Payment, error) {
	const q = `
SELECT id, created_at, method, amount_msat, fee_msat, target
FROM payments ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, q, limitArg(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var (
			p           model.Payment
			method      string
			amount, fee int64
		)
		if err = rows.Scan(&p.ID, &p.CreatedAt, &method, &amount, &fee, &p.Target); err != nil {
			return nil, err
		}
		p.Method = model.Method(method)
		p.Amount = model.Amount(amount)
		p.Fee = model.Amount(fee)
		out = append(out, p)
	}
	return out, rows.Err()
}
