package main

import (
	"fmt"
	"os"
	"time"

	"github.com/plategate/plategate/cmd"
	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/logging"
	"github.com/plategate/plategate/internal/telemetry"
)

// Populated at build time:
// go build -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}
	settings.Version = version
	settings.BuildDate = buildDate

	attachSystemID(settings)

	if err := telemetry.Init(settings); err != nil {
		logging.Warn("telemetry unavailable", "error", err)
	}
	defer telemetry.Flush(3 * time.Second)

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		// cobra already printed the error, the exit code is ours
		return 1
	}
	return 0
}

// attachSystemID loads or creates the anonymous install identifier used to
// correlate opt-in error reports. Failure just leaves reports uncorrelated.
func attachSystemID(settings *conf.Settings) {
	paths, err := conf.GetDefaultConfigPaths()
	if err != nil || len(paths) == 0 {
		return
	}
	id, err := telemetry.LoadOrCreateSystemID(paths[0])
	if err != nil {
		logging.Debug("system id unavailable", "error", err)
		return
	}
	settings.SystemID = id
}
