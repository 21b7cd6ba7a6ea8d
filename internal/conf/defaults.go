// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "plategate")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/plategate.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 104857600)
	viper.SetDefault("main.log.rotationday", "Sunday")

	// Evaluator: detections below the threshold never authorize a gate open.
	viper.SetDefault("decision.confidencethreshold", 60.0)

	viper.SetDefault("cloud.debug", false)
	viper.SetDefault("cloud.host", "0.0.0.0")
	viper.SetDefault("cloud.port", "8080")
	viper.SetDefault("cloud.apikey", "")
	viper.SetDefault("cloud.log.enabled", true)
	viper.SetDefault("cloud.log.path", "logs/cloud-api.log")
	viper.SetDefault("cloud.log.rotation", RotationDaily)
	viper.SetDefault("cloud.log.maxsize", 104857600)
	viper.SetDefault("cloud.health.offlinetimeoutseconds", 75)
	viper.SetDefault("cloud.health.sweepintervalseconds", 15)

	viper.SetDefault("edge.debug", false)
	viper.SetDefault("edge.deviceid", "")
	viper.SetDefault("edge.propertyid", "")
	viper.SetDefault("edge.cloudurl", "http://localhost:8080")
	viper.SetDefault("edge.apikey", "")
	viper.SetDefault("edge.host", "127.0.0.1")
	viper.SetDefault("edge.port", "8090")
	viper.SetDefault("edge.log.enabled", true)
	viper.SetDefault("edge.log.path", "logs/edge.log")
	viper.SetDefault("edge.log.rotation", RotationDaily)
	viper.SetDefault("edge.log.maxsize", 104857600)

	viper.SetDefault("edge.sync.intervalseconds", 60)
	viper.SetDefault("edge.sync.requesttimeoutseconds", 10)
	viper.SetDefault("edge.sync.backoffbaseseconds", 2)
	viper.SetDefault("edge.sync.backoffmaxseconds", 300)

	viper.SetDefault("edge.heartbeat.intervalseconds", 30)

	viper.SetDefault("edge.cache.path", "plategate-cache.db")
	viper.SetDefault("edge.cache.stalenesshours", 24)

	viper.SetDefault("edge.pipeline.dedupttlseconds", 300)
	viper.SetDefault("edge.pipeline.workers", 2)
	viper.SetDefault("edge.pipeline.queuesize", 256)

	viper.SetDefault("edge.gate.enabled", false)
	viper.SetDefault("edge.gate.url", "")
	viper.SetDefault("edge.gate.apikey", "")
	viper.SetDefault("edge.gate.unlockseconds", 5)
	viper.SetDefault("edge.gate.timeoutseconds", 5)
	viper.SetDefault("edge.gate.attempts", 3)

	viper.SetDefault("edge.mqtt.enabled", false)
	viper.SetDefault("edge.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("edge.mqtt.topicprefix", "plategate")
	viper.SetDefault("edge.mqtt.username", "")
	viper.SetDefault("edge.mqtt.password", "")

	viper.SetDefault("edge.report.queuesize", 1000)
	viper.SetDefault("edge.report.flushintervalseconds", 300)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "plategate.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "plategate")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "plategate")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)
}
