// Package config loads process-level configuration from environment
// variables with sensible defaults for all settings.
//
// Everything about routing — declared systems, schema files, topic and
// service routes — lives in the bridge configuration file; the environment
// only says where that file is and how the process should run:
//
//	CROSSBUS_CONFIG="crossbus.yaml"
//	CROSSBUS_HEALTH_HOST="0.0.0.0"
//	CROSSBUS_HEALTH_PORT="9090"
//	CROSSBUS_SPIN_INTERVAL="1ms"
//	CROSSBUS_SHUTDOWN_TIMEOUT="30s"
//	CROSSBUS_LOG_LEVEL="info"   # debug, info, warn, error
//	CROSSBUS_LOG_FORMAT="text"  # text, json
//	CROSSBUS_METRICS_ENABLED="true"
package config
