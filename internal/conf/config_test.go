package conf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveSecrets(t *testing.T) {
	t.Setenv("PG_TEST_CLOUD_KEY", "cloud-key-from-env")

	secretFile := filepath.Join(t.TempDir(), "mqtt_pass")
	if err := os.WriteFile(secretFile, []byte("broker-pass\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}

	s := validSettings()
	s.Cloud.APIKey = "${PG_TEST_CLOUD_KEY}"
	s.Edge.APIKey = "literal-edge-key"
	s.Edge.MQTT.Password = "file:" + secretFile

	if err := resolveSecrets(s); err != nil {
		t.Fatalf("resolveSecrets: %v", err)
	}

	if s.Cloud.APIKey != "cloud-key-from-env" {
		t.Errorf("cloud API key = %q, want env value", s.Cloud.APIKey)
	}
	if s.Edge.APIKey != "literal-edge-key" {
		t.Errorf("edge API key = %q, want literal untouched", s.Edge.APIKey)
	}
	if s.Edge.MQTT.Password != "broker-pass" {
		t.Errorf("mqtt password = %q, want file content", s.Edge.MQTT.Password)
	}
}

func TestResolveSecretsEmptyValues(t *testing.T) {
	t.Parallel()

	// Default settings carry no credentials at all; that must not be an error.
	s := validSettings()
	if err := resolveSecrets(s); err != nil {
		t.Fatalf("resolveSecrets on empty credentials: %v", err)
	}
}

func TestResolveSecretsNamesTheSetting(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Sentry.DSN = "${PG_TEST_UNSET_DSN_VAR}"

	err := resolveSecrets(s)
	if err == nil {
		t.Fatal("expected error for unresolvable reference")
	}
	if !strings.Contains(err.Error(), "sentry.dsn") {
		t.Errorf("error %q should name the setting sentry.dsn", err.Error())
	}
}
