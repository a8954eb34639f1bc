package postgres

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/labdesk/internal/domain/catalog"
)

const (
	listOverridesSQL = `SELECT test_code, price FROM referral_prices WHERE referral_id = $1`

	deleteOverridesSQL = `DELETE FROM referral_prices WHERE referral_id = $1`

	insertOverrideSQL = `INSERT INTO referral_prices (referral_id, test_code, price)
		VALUES ($1, UPPER(TRIM($2)), $3)`
)

var _ catalog.ReferralRepository = (*ReferralRepository)(nil)

// ReferralRepository stores per-referral test price overrides.
type ReferralRepository struct {
	pool *pgxpool.Pool
}

// NewReferralRepository returns a ReferralRepository that uses the given pool.
func NewReferralRepository(pool *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{pool: pool}
}

// Overrides returns the price overrides of a referral. A referral without
// overrides yields an empty map.
func (r *ReferralRepository) Overrides(ctx context.Context, referralID string) (catalog.Overrides, error) {
	rows, err := r.pool.Query(ctx, listOverridesSQL, referralID)
	if err != nil {
		return nil, fmt.Errorf("listing overrides for %q: %w", referralID, err)
	}
	type override struct {
		code  string
		price decimal.Decimal
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (override, error) {
		var o override
		err := row.Scan(&o.code, &o.price)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing overrides for %q: %w", referralID, err)
	}

	out := make(catalog.Overrides, len(list))
	for _, o := range list {
		out[o.code] = o.price
	}
	return out, nil
}

// SetOverrides replaces all overrides of a referral.
func (r *ReferralRepository) SetOverrides(ctx context.Context, referralID string, overrides catalog.Overrides) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		b.Queue(deleteOverridesSQL, referralID)
		normalized := normalizeOverrides(overrides)
		for _, code := range slices.Sorted(maps.Keys(normalized)) {
			b.Queue(insertOverrideSQL, referralID, code, normalized[code])
		}
		return tx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return fmt.Errorf("setting overrides for %q: %w", referralID, err)
	}
	return nil
}

// normalizeOverrides folds codes to their catalog form and drops blank ones.
// When several keys fold to the same code, the key already in catalog form
// wins, otherwise the lowest key.
func normalizeOverrides(overrides catalog.Overrides) catalog.Overrides {
	out := make(catalog.Overrides, len(overrides))
	for _, raw := range slices.Sorted(maps.Keys(overrides)) {
		code := catalog.NormalizeCode(raw)
		if code == "" {
			continue
		}
		if _, taken := out[code]; taken && raw != code {
			continue
		}
		out[code] = overrides[raw]
	}
	return out
}
