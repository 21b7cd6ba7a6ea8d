// conf/validate.go

package conf

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateDecisionSettings(&settings.Decision); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateCloudSettings(&settings.Cloud); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateEdgeSettings(&settings.Edge); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateDecisionSettings validates the evaluator settings
func validateDecisionSettings(settings *DecisionSettings) error {
	var errs []string

	if settings.ConfidenceThreshold < 0 || settings.ConfidenceThreshold > 100 {
		errs = append(errs, "decision confidence threshold must be between 0 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateCloudSettings validates the cloud service settings
func validateCloudSettings(settings *CloudSettings) error {
	var errs []string

	if err := validatePort(settings.Port); err != nil {
		errs = append(errs, fmt.Sprintf("cloud port: %v", err))
	}

	if settings.Health.OfflineTimeoutSeconds <= 0 {
		errs = append(errs, "cloud health offline timeout must be positive")
	}
	if settings.Health.SweepIntervalSeconds <= 0 {
		errs = append(errs, "cloud health sweep interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateEdgeSettings validates the edge agent settings
func validateEdgeSettings(settings *EdgeSettings) error {
	var errs []string

	if err := validatePort(settings.Port); err != nil {
		errs = append(errs, fmt.Sprintf("edge port: %v", err))
	}

	if settings.Sync.IntervalSeconds <= 0 {
		errs = append(errs, "edge sync interval must be positive")
	}
	if settings.Sync.RequestTimeoutSeconds <= 0 {
		errs = append(errs, "edge sync request timeout must be positive")
	}
	if settings.Sync.BackoffBaseSeconds <= 0 {
		errs = append(errs, "edge sync backoff base must be positive")
	}
	if settings.Sync.BackoffMaxSeconds < settings.Sync.BackoffBaseSeconds {
		errs = append(errs, "edge sync backoff ceiling must not be below the base delay")
	}

	if settings.Heartbeat.IntervalSeconds <= 0 {
		errs = append(errs, "edge heartbeat interval must be positive")
	}

	if settings.Cache.Path == "" {
		errs = append(errs, "edge cache path must not be empty")
	}
	if settings.Cache.StalenessHours <= 0 {
		errs = append(errs, "edge cache staleness ceiling must be positive")
	}

	if settings.Pipeline.DedupTTLSeconds <= 0 {
		errs = append(errs, "edge pipeline dedup TTL must be positive")
	}
	if settings.Pipeline.Workers <= 0 {
		errs = append(errs, "edge pipeline workers must be positive")
	}
	if settings.Pipeline.QueueSize <= 0 {
		errs = append(errs, "edge pipeline queue size must be positive")
	}

	if settings.Gate.Enabled {
		if settings.Gate.URL == "" {
			errs = append(errs, "edge gate URL must be set when gate actuation is enabled")
		}
		if settings.Gate.UnlockSeconds <= 0 {
			errs = append(errs, "edge gate unlock duration must be positive")
		}
		if settings.Gate.Attempts <= 0 {
			errs = append(errs, "edge gate attempts must be positive")
		}
	}

	if settings.MQTT.Enabled && settings.MQTT.Broker == "" {
		errs = append(errs, "edge MQTT broker must be set when MQTT is enabled")
	}

	if settings.Report.QueueSize <= 0 {
		errs = append(errs, "edge report queue size must be positive")
	}
	if settings.Report.FlushIntervalSeconds <= 0 {
		errs = append(errs, "edge report flush interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validateOutputSettings validates the cloud store backends
func validateOutputSettings(settings *Settings) error {
	var errs []string

	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		errs = append(errs, "only one cloud store backend may be enabled at a time")
	}
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path == "" {
		errs = append(errs, "sqlite path must not be empty when sqlite output is enabled")
	}
	if settings.Output.MySQL.Enabled {
		if settings.Output.MySQL.Host == "" || settings.Output.MySQL.Database == "" {
			errs = append(errs, "mysql host and database must be set when mysql output is enabled")
		}
		if err := validatePort(settings.Output.MySQL.Port); err != nil {
			errs = append(errs, fmt.Sprintf("mysql port: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// validatePort checks that the string is a valid TCP port number
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("port must not be empty")
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port: %s", port)
	}
	return nil
}
