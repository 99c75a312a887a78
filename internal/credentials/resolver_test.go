package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/starford/pressroom/internal/apperr"
	"github.com/starford/pressroom/internal/models"
)

type mapSettings map[string]models.Credentials

func (m mapSettings) CMSSettings(_ context.Context, ownerID string) (models.Credentials, error) {
	return m[ownerID], nil
}

type failingSettings struct{}

func (failingSettings) CMSSettings(context.Context, string) (models.Credentials, error) {
	return models.Credentials{}, errors.New("db closed")
}

var defaults = models.Credentials{
	URL:                 "https://default.example.com",
	Username:            "default-user",
	ApplicationPassword: "default-pass",
}

func TestResolve_OwnerURLWithDefaultAccount(t *testing.T) {
	r := NewResolver(mapSettings{"alice": {URL: "https://alice.example.com/"}}, defaults)

	got, err := r.Resolve(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := models.Credentials{URL: "https://alice.example.com", Username: "default-user", ApplicationPassword: "default-pass"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResolve_OwnerAccountWithDefaultURL(t *testing.T) {
	r := NewResolver(mapSettings{"bob": {Username: "bob", ApplicationPassword: "bob-pass"}}, defaults)

	got, err := r.Resolve(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := models.Credentials{URL: "https://default.example.com", Username: "bob", ApplicationPassword: "bob-pass"}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestResolve_OwnerOverridesEverything(t *testing.T) {
	own := models.Credentials{URL: "https://c.example.com", Username: "carol", ApplicationPassword: "pw"}
	r := NewResolver(mapSettings{"carol": own}, defaults)

	got, err := r.Resolve(context.Background(), "carol")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != own {
		t.Errorf("got %+v, want %+v", got, own)
	}
}

func TestResolve_BlankOwnerFieldFallsBack(t *testing.T) {
	r := NewResolver(mapSettings{"dan": {Username: "   "}}, defaults)

	got, err := r.Resolve(context.Background(), "dan")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Username != "default-user" {
		t.Errorf("username = %q, want default", got.Username)
	}
}

func TestResolve_NotConfigured(t *testing.T) {
	r := NewResolver(mapSettings{"erin": {URL: "https://e.example.com", Username: "erin"}}, models.Credentials{})

	_, err := r.Resolve(context.Background(), "erin")
	if !errors.Is(err, apperr.ErrNotConfigured) {
		t.Fatalf("err = %v, want not_configured", err)
	}
	if !strings.Contains(apperr.HintOf(err), "applicationPassword") {
		t.Errorf("hint = %q, want missing field named", apperr.HintOf(err))
	}
}

func TestResolve_NoSettingsNoDefaults(t *testing.T) {
	r := NewResolver(nil, models.Credentials{})
	_, err := r.Resolve(context.Background(), "frank")
	if apperr.KindOf(err) != apperr.KindNotConfigured {
		t.Fatalf("kind = %q, want not_configured", apperr.KindOf(err))
	}
}

func TestResolve_SettingsError(t *testing.T) {
	r := NewResolver(failingSettings{}, defaults)
	_, err := r.Resolve(context.Background(), "gina")
	if err == nil || apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("err = %v, want internal error", err)
	}
}
