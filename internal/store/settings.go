package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting returns the value for a settings key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	q := s.rebind(`SELECT value FROM settings WHERE key_name = ?`)
	if err := s.db.GetContext(ctx, &value, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting creates or replaces a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO settings (key_name, value) VALUES (?, ?)
			ON DUPLICATE KEY UPDATE value = VALUES(value)`
	default:
		q = s.rebind(`INSERT INTO settings (key_name, value) VALUES (?, ?)
			ON CONFLICT (key_name) DO UPDATE SET value = excluded.value`)
	}
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
