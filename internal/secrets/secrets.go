// Package secrets resolves credential-bearing configuration values so the
// YAML config never has to hold plaintext secrets. A value may reference an
// environment variable (${VAR} or ${VAR:-default}) or a mounted secret file
// ("file:/run/secrets/name", the Docker and Kubernetes convention); anything
// else passes through as a literal. Resolution happens once, at config load.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Secrets are API keys and passwords, not blobs.
	maxSecretFileSize = 64 * 1024

	// filePrefix marks a value naming a mounted secret file.
	filePrefix = "file:"
)

// Resolve turns a configured credential value into the secret it denotes.
// A file: prefix reads the named file, everything else goes through
// environment expansion. Plain literals come back unchanged.
func Resolve(value string) (string, error) {
	if strings.HasPrefix(value, filePrefix) {
		return ReadFile(strings.TrimPrefix(value, filePrefix))
	}
	return ExpandString(value)
}

// ExpandString resolves ${VAR} and ${VAR:-default} references in s.
// A reference without a fallback whose variable is unset or empty is an
// error, so a typo fails the load instead of producing an empty credential.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missingVars []string

	expanded := os.Expand(s, func(key string) string {
		varName := key
		defaultValue := ""
		hasDefault := false

		if idx := strings.Index(key, ":-"); idx != -1 {
			varName = key[:idx]
			defaultValue = key[idx+2:]
			hasDefault = true
		}

		value := os.Getenv(varName)
		if value == "" {
			if hasDefault {
				return defaultValue
			}
			missingVars = append(missingVars, varName)
			return ""
		}
		return value
	})

	if len(missingVars) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s",
			strings.Join(missingVars, ", "))
	}

	return expanded, nil
}

// ReadFile reads a single secret from a file. The size cap and regular-file
// check keep a mispointed path from pulling in something large or strange,
// and trailing newlines are stripped because mounted secrets usually carry
// one.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}

	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", cleanPath)
		}
		return "", fmt.Errorf("failed to stat secret file %s: %w", cleanPath, err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", cleanPath)
	}

	if info.Size() > maxSecretFileSize {
		return "", fmt.Errorf("secret file too large (max %d bytes): %s",
			maxSecretFileSize, cleanPath)
	}

	// World or group readable secret files are worth flagging, but the
	// operator may not control the mount's permissions, so warn and go on.
	// slog directly, not the logging package: conf loads secrets before
	// any service logger exists.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		slog.Warn("Secret file is readable by group or others",
			"path", cleanPath,
			"mode", fmt.Sprintf("%04o", perm))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", cleanPath, err)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", cleanPath)
	}

	return secret, nil
}
