package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/models"
)

// CMSSettings returns the credentials ownerID stored. Owners without settings
// get zero Credentials and a nil error. A password the sealer cannot open
// fails with not_configured.
func (db *DB) CMSSettings(ctx context.Context, ownerID string) (models.Credentials, error) {
	query, args, err := db.psql.Select("cms_url", "username", "app_password").
		From("cms_settings").
		Where(sq.Eq{"owner_id": ownerID}).
		ToSql()
	if err != nil {
		return models.Credentials{}, fmt.Errorf("store: build settings get: %w", err)
	}

	var c models.Credentials
	var sealed string
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&c.URL, &c.Username, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Credentials{}, nil
	}
	if err != nil {
		return models.Credentials{}, fmt.Errorf("store: get settings: %w", err)
	}
	if c.ApplicationPassword, err = db.sealer.Open(sealed); err != nil {
		// Rows saved before secrets.key was set, or under another key.
		return models.Credentials{}, apperr.Wrap(apperr.KindNotConfigured,
			"stored application password cannot be read with the configured secrets key", err).
			WithHint("re-enter the application password in your CMS settings")
	}
	return c, nil
}

// PutCMSSettings replaces the stored credentials of ownerID.
func (db *DB) PutCMSSettings(ctx context.Context, ownerID string, creds models.Credentials) error {
	if strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("store: owner id is required")
	}
	creds = creds.Normalize()
	sealed, err := db.sealer.Seal(creds.ApplicationPassword)
	if err != nil {
		return fmt.Errorf("store: seal application password: %w", err)
	}
	query, args, err := db.psql.Insert("cms_settings").
		Columns("owner_id", "cms_url", "username", "app_password", "updated_at").
		Values(ownerID, creds.URL, creds.Username, sealed, time.Now().UnixNano()).
		Suffix(`ON CONFLICT(owner_id) DO UPDATE SET
			cms_url      = excluded.cms_url,
			username     = excluded.username,
			app_password = excluded.app_password,
			updated_at   = excluded.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("store: build settings put: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: put settings: %w", err)
	}
	return nil
}
