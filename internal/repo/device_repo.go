package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DeviceRepo defines the interface for device repository operations
type DeviceRepo interface {
	Touch(ctx context.Context, userID, deviceID uuid.UUID, name string) error
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

// Touch upserts the device and stamps its last-active time. Called on
// every authenticate; the insert path covers first-seen devices.
func (r *deviceRepo) Touch(ctx context.Context, userID, deviceID uuid.UUID, name string) error {
	query := `
		INSERT INTO devices (id, user_id, device_name, last_active_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET device_name = EXCLUDED.device_name, last_active_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, deviceID, userID, name); err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}
