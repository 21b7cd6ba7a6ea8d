// Package telemetry - anonymous install identifier persistence
package telemetry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/plategate/plategate/internal/errors"
	"github.com/plategate/plategate/internal/privacy"
)

const systemIDFile = ".system_id"

// LoadOrCreateSystemID reads the install identifier from the config
// directory, generating and persisting a fresh one when missing or invalid.
// The ID carries no device or property information; it only lets repeated
// reports from one install group together.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "create-config-dir").
			Build()
	}

	idFile := filepath.Join(configDir, systemIDFile)
	if data, err := os.ReadFile(idFile); err == nil {
		id := strings.TrimSpace(string(data))
		if privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "generate-system-id").
			Build()
	}

	if err := os.WriteFile(idFile, []byte(id), 0o644); err != nil {
		return "", errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "save-system-id").
			Build()
	}
	return id, nil
}
