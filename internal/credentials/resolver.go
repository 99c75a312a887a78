// Package credentials decides which CMS account an owner publishes with.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/models"
)

// SettingsSource returns the credentials an owner stored, possibly partial.
// An owner with no settings yields zero Credentials and a nil error.
type SettingsSource interface {
	CMSSettings(ctx context.Context, ownerID string) (models.Credentials, error)
}

// Resolver merges per-owner settings over process-wide defaults.
type Resolver struct {
	settings SettingsSource
	defaults models.Credentials
}

// NewResolver creates a Resolver. defaults is read-only for the process lifetime.
func NewResolver(settings SettingsSource, defaults models.Credentials) *Resolver {
	return &Resolver{settings: settings, defaults: defaults.Normalize()}
}

// Resolve returns complete credentials for ownerID. Each field is taken from
// the owner's settings when non-blank and from the defaults otherwise.
func (r *Resolver) Resolve(ctx context.Context, ownerID string) (models.Credentials, error) {
	var owner models.Credentials
	if r.settings != nil {
		s, err := r.settings.CMSSettings(ctx, ownerID)
		if err != nil {
			return models.Credentials{}, fmt.Errorf("credentials: load settings: %w", err)
		}
		owner = s.Normalize()
	}

	merged := models.Credentials{
		URL:                 firstNonBlank(owner.URL, r.defaults.URL),
		Username:            firstNonBlank(owner.Username, r.defaults.Username),
		ApplicationPassword: firstNonBlank(owner.ApplicationPassword, r.defaults.ApplicationPassword),
	}
	if missing := merged.Missing(); len(missing) > 0 {
		return models.Credentials{}, apperr.New(apperr.KindNotConfigured,
			"CMS credentials are incomplete: missing "+strings.Join(missing, ", ")).
			WithHint("set " + strings.Join(missing, ", ") + " in your CMS settings")
	}
	return merged, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
