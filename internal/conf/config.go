// config.go: settings struct and functions to load and save the plategate configuration.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/plategate/plategate/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // path to log file
	Rotation    RotationType // type of log rotation
	MaxSize     int64        // max size in bytes for RotationSize
	RotationDay string       // day of the week for RotationWeekly ("Sunday", "Monday", ...)
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// DecisionSettings controls the access evaluator, shared by cloud and edge.
type DecisionSettings struct {
	ConfidenceThreshold float64 // 0-100, detections scoring below resolve to unknown; 0 disables the override
}

// HealthSettings controls the cloud-side device health tracker.
type HealthSettings struct {
	OfflineTimeoutSeconds int // no heartbeat or sync activity for this long marks a device offline
	SweepIntervalSeconds  int // how often the tracker scans for silent devices
}

// CloudSettings contains settings for the cloud service.
type CloudSettings struct {
	Debug  bool      // true to enable debug mode
	Host   string    // address to bind the API server to
	Port   string    // port for the API server
	APIKey string    // shared secret required on sync and mutation endpoints, empty disables auth
	Log    LogConfig // cloud API log
	Health HealthSettings
}

// SyncSettings controls the edge pull-sync state machine.
type SyncSettings struct {
	IntervalSeconds       int // poll interval between fingerprint probes
	RequestTimeoutSeconds int // per-request timeout for probe and fetch
	BackoffBaseSeconds    int // first retry delay after a failed cycle
	BackoffMaxSeconds     int // ceiling for the exponential retry delay
}

// HeartbeatSettings controls the edge heartbeat loop.
type HeartbeatSettings struct {
	IntervalSeconds int
}

// CacheSettings controls the durable edge rule cache.
type CacheSettings struct {
	Path           string // sqlite database holding the cached snapshot and local decision log
	StalenessHours int    // cache older than this is flagged in decision reasons
}

// PipelineSettings controls the decision pipeline.
type PipelineSettings struct {
	DedupTTLSeconds int // window in which a repeated delivery id is dropped
	Workers         int // async action workers
	QueueSize       int // async action queue capacity
}

// GateSettings configures the gate controller client.
type GateSettings struct {
	Enabled        bool   // true to send unlock commands, false logs them only
	URL            string // gate controller endpoint
	APIKey         string // gate controller API key
	UnlockSeconds  int    // how long the gate stays open
	TimeoutSeconds int    // per-request timeout
	Attempts       int    // actuation attempts before giving up
}

// MQTTSettings configures the optional MQTT transport on the edge.
type MQTTSettings struct {
	Enabled     bool   // true to enable MQTT
	Broker      string // MQTT broker (tcp://host:port)
	TopicPrefix string // prefix for the detections and decisions topics
	Username    string // MQTT username
	Password    string // MQTT password
}

// ReportSettings controls decision reporting from edge to cloud.
type ReportSettings struct {
	QueueSize            int // offline queue capacity, oldest records drop beyond this
	FlushIntervalSeconds int // periodic flush of queued records
}

// EdgeSettings contains settings for the edge agent.
type EdgeSettings struct {
	Debug      bool   // true to enable debug mode
	DeviceID   string // identifier of this edge device
	PropertyID string // property whose rules this device enforces
	CloudURL   string // base URL of the cloud API
	APIKey     string // API key for the cloud API
	Host       string // address to bind the local API server to
	Port       string // port for the local API server
	Log        LogConfig
	Sync       SyncSettings
	Heartbeat  HeartbeatSettings
	Cache      CacheSettings
	Pipeline   PipelineSettings
	Gate       GateSettings
	MQTT       MQTTSettings
	Report     ReportSettings
}

// SentrySettings contains settings for opt-in error telemetry.
type SentrySettings struct {
	Enabled bool   // true to enable Sentry error reporting (opt-in)
	DSN     string // Sentry project DSN
	Debug   bool   // true to log what telemetry filters remove
}

// Settings contains all configuration options for plategate.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build
	SystemID  string `yaml:"-"` // Anonymous install identifier

	Main struct {
		Name string    // name of this plategate node, used to identify decision sources
		Log  LogConfig // main application log
	}

	Decision DecisionSettings // evaluator settings, identical on cloud and edge

	Cloud CloudSettings // cloud service settings
	Edge  EdgeSettings  // edge agent settings

	Output struct {
		SQLite struct {
			Enabled bool   // true to use sqlite for the cloud store
			Path    string // path to sqlite database
		}

		MySQL struct {
			Enabled  bool   // true to use mysql for the cloud store
			Username string // username for mysql database
			Password string // password for mysql database
			Database string // database name for mysql database
			Host     string // host for mysql database
			Port     string // port for mysql database
		}
	}

	Sentry SentrySettings // opt-in error telemetry
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets replaces credential references (${VAR}, file:...) with the
// secrets they point at, so the rest of the program only ever sees resolved
// values. Errors name the setting, never the value.
func resolveSecrets(settings *Settings) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"cloud.apikey", &settings.Cloud.APIKey},
		{"edge.apikey", &settings.Edge.APIKey},
		{"edge.gate.apikey", &settings.Edge.Gate.APIKey},
		{"edge.mqtt.username", &settings.Edge.MQTT.Username},
		{"edge.mqtt.password", &settings.Edge.MQTT.Password},
		{"output.mysql.password", &settings.Output.MySQL.Password},
		{"sentry.dsn", &settings.Sentry.DSN},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(*f.value)
		if err != nil {
			return fmt.Errorf("error resolving secret for %s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("PLATEGATE")
	viper.AutomaticEnv()

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveSettings saves the current settings to the configuration file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	settingsCopy := *settingsInstance

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// SaveYAMLConfig writes the settings to the YAML configuration file.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write to a temp file first so a failed write never truncates the config
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temp config file: %w", err)
	}
	tempName := tempFile.Name()

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("error writing temp config file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error closing temp config file: %w", err)
	}

	if err := os.Rename(tempName, configPath); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
