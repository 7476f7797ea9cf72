package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"ofbconnect/internal/shared/apperr"
	"ofbconnect/internal/shared/auth"
	"ofbconnect/internal/shared/config"
)

func loadTestConfig() (*config.Config, error) {
	return &config.Config{
		Storage:    config.StorageConfig{Driver: "memory", VerifierStore: "memory"},
		JWT:        config.JWTConfig{Secret: "test-secret"},
		Encryption: config.EncryptionConfig{Key: "0123456789abcdef0123456789abcdef"},
		OpenFinance: config.OpenFinanceConfig{
			ClientID:              "client-1",
			RedirectURI:           "https://app.example.com/callback",
			AuthBaseURL:           "https://auth.example.com",
			APIBaseURL:            "https://api.example.com",
			RequestTimeout:        5 * time.Second,
			ConsentExpirationDays: 90,
			AuthorizationWindow:   10 * time.Minute,
			SyncRangeDays:         30,
			DefaultSyncTime:       "06:00",
		},
	}, nil
}

func runAdmin(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(context.Background(), loadTestConfig, args, &out)
	return out.String(), err
}

func TestCertInfo_NoCertificates(t *testing.T) {
	out, err := runAdmin(t, "cert-info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No certificates loaded") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = runAdmin(t, "cert-info", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "null" {
		t.Errorf("expected null, got %q", out)
	}
}

func TestExpireConsents(t *testing.T) {
	out, err := runAdmin(t, "expire-consents")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Expired 0 consent(s)") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestRevoke_UnknownConsent(t *testing.T) {
	_, err := runAdmin(t, "revoke", "--consent", "missing")
	if !errors.Is(err, apperr.ErrConsentNotFound) {
		t.Errorf("expected ErrConsentNotFound, got %v", err)
	}
}

func TestRequiredFlags(t *testing.T) {
	for _, args := range [][]string{{"sync"}, {"jobs"}, {"revoke"}, {"issue-token"}} {
		if _, err := runAdmin(t, args...); err == nil {
			t.Errorf("%v: expected missing flag error", args)
		}
	}
}

func TestIssueToken(t *testing.T) {
	out, err := runAdmin(t, "issue-token", "--user", "user-1", "--email", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := auth.NewJWT("test-secret").Validate(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.UserID() != "user-1" {
		t.Errorf("expected user-1, got %q", claims.UserID())
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		wantNil bool
		wantErr bool
	}{
		{name: "Empty", wantNil: true},
		{name: "From Only", from: "2024-01-01"},
		{name: "Both", from: "2024-01-01", to: "2024-01-31"},
		{name: "To Without From", to: "2024-01-31", wantErr: true},
		{name: "Bad Date", from: "01/01/2024", wantErr: true},
		{name: "Reversed", from: "2024-02-01", to: "2024-01-01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng, err := parseRange(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr {
				return
			}
			if (rng == nil) != tt.wantNil {
				t.Errorf("expected nil range %v, got %+v", tt.wantNil, rng)
			}
		})
	}
}
