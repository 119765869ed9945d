package configutil

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"auth_token"}, Optional: []string{"public_url"}}

	if err := ValidateSettings(map[string]any{"authToken": "x", "public-url": "https://a"}, schema); err != nil {
		t.Fatalf("expected normalized keys to match, got %v", err)
	}

	err := ValidateSettings(map[string]any{"auth_token": "  ", "bogus": 1}, schema)
	var serr *SettingsError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "auth_token" || len(serr.Unknown) != 1 || serr.Unknown[0] != "bogus" {
		t.Fatalf("unexpected error contents: %+v", serr)
	}
	if err.Error() != "missing: auth_token; unknown: bogus" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	schema.AllowUnknown = true
	if err := ValidateSettings(map[string]any{"auth_token": "x", "bogus": 1}, schema); err != nil {
		t.Fatalf("unknown keys should pass when allowed, got %v", err)
	}
}

func TestDecodeSettings(t *testing.T) {
	var out struct {
		PublicURL      string        `mapstructure:"public_url"`
		PauseSeconds   int           `mapstructure:"pause_seconds"`
		AllowAnyOrigin bool          `mapstructure:"allow_any_origin"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
		Timeout        time.Duration `mapstructure:"timeout"`
	}
	err := DecodeSettings(map[string]any{
		"publicUrl":        "https://relay.example.com",
		"pause_seconds":    "2",
		"allow-any-origin": "true",
		"allowed_origins":  "https://a.example,https://b.example",
		"timeout":          "1500ms",
	}, &out)
	if err != nil {
		t.Fatalf("DecodeSettings: %v", err)
	}
	if out.PublicURL != "https://relay.example.com" || out.PauseSeconds != 2 || !out.AllowAnyOrigin {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if len(out.AllowedOrigins) != 2 || out.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected hooks result: %+v", out)
	}
	if err := DecodeSettings(nil, &out); err != nil {
		t.Fatalf("empty input should be a no-op, got %v", err)
	}
}

func TestRequireString(t *testing.T) {
	if err := RequireString(" ", "ai.api_key"); err == nil || err.Error() != "ai.api_key is required" {
		t.Fatalf("unexpected error %v", err)
	}
	if err := RequireString("sk", "ai.api_key"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
