package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/labdesk/internal/domain/order"
)

// SettingTATHours is the settings key of the turnaround table.
const SettingTATHours = "tat_hours"

const (
	getSettingSQL = `SELECT value FROM settings WHERE key = $1`

	putSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
)

var _ order.SettingsRepository = (*SettingsRepository)(nil)

// SettingsRepository stores key/value lab settings as JSONB documents.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

// TATHours returns turnaround hours per category. A missing document yields
// an empty map.
func (r *SettingsRepository) TATHours(ctx context.Context) (map[string]int, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, getSettingSQL, SettingTATHours).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("getting setting %q: %w", SettingTATHours, err)
	}
	hours := map[string]int{}
	if err := json.Unmarshal(raw, &hours); err != nil {
		return nil, fmt.Errorf("decoding setting %q: %w", SettingTATHours, err)
	}
	return hours, nil
}

// SetTATHours replaces the turnaround table.
func (r *SettingsRepository) SetTATHours(ctx context.Context, hours map[string]int) error {
	raw, err := json.Marshal(hours)
	if err != nil {
		return fmt.Errorf("encoding setting %q: %w", SettingTATHours, err)
	}
	if _, err := r.pool.Exec(ctx, putSettingSQL, SettingTATHours, raw); err != nil {
		return fmt.Errorf("putting setting %q: %w", SettingTATHours, err)
	}
	return nil
}
