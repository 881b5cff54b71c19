// Package config holds the broker's process configuration. Unlike
// coreengine/config's global-singleton CoreConfig, values here are always
// constructed explicitly and passed down by cmd/sylvia-iot-broker/main.go:
// the Connection Pool, and everything it's built from, is injected rather
// than reached for as a package-level singleton.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the broker's full process configuration.
type Config struct {
	// AMQPURI and MQTTURI are the canonical broker URIs a Connection Pool
	// dials; either may be empty if that transport family is unused by any
	// configured Network/Application.
	AMQPURI string
	MQTTURI string

	// SharedSubscriptionGroup is the fixed per-deployment MQTT
	// $share/{group}/ prefix.
	SharedSubscriptionGroup string

	// DlDataBufferTTL bounds a DlDataBuffer row's lifetime (default 86400s).
	DlDataBufferTTL time.Duration
	// DlDataBufferSweepInterval is how often the sweep loop runs.
	DlDataBufferSweepInterval time.Duration

	// Routing cache sizes.
	CacheUlDataSize    int
	CacheDlDataSize    int
	CacheDlDataPubSize int

	// MetricsAddr, if non-empty, is where /metrics is served.
	MetricsAddr string
	// TracingCollectorEndpoint is the OTLP/gRPC collector address; empty
	// uses InitTracer's own default.
	TracingCollectorEndpoint string
	// ServiceName identifies this process to tracing/metrics.
	ServiceName string

	LogLevel string
}

// Default returns the broker's default configuration.
func Default() *Config {
	return &Config{
		AMQPURI:                   "amqp://localhost",
		MQTTURI:                   "mqtt://localhost",
		SharedSubscriptionGroup:   "broker",
		DlDataBufferTTL:           24 * time.Hour,
		DlDataBufferSweepInterval: time.Minute,
		CacheUlDataSize:           10_000,
		CacheDlDataSize:           10_000,
		CacheDlDataPubSize:        10_000,
		MetricsAddr:               ":9090",
		ServiceName:               "sylvia-iot-broker",
		LogLevel:                  "info",
	}
}

// LoadEnv overlays environment variables onto Default(), returning a new
// Config. Unset variables leave the prior value in place. There is
// deliberately no file-based loader here: the deployment's own config
// management owns rendering BROKER_* into the process environment before
// this runs.
func LoadEnv() *Config {
	c := Default()

	if v := os.Getenv("BROKER_AMQP_URI"); v != "" {
		c.AMQPURI = v
	}
	if v := os.Getenv("BROKER_MQTT_URI"); v != "" {
		c.MQTTURI = v
	}
	if v := os.Getenv("BROKER_SHARED_SUBSCRIPTION_GROUP"); v != "" {
		c.SharedSubscriptionGroup = v
	}
	if v, ok := envSeconds("BROKER_DLDATA_BUFFER_TTL_SECONDS"); ok {
		c.DlDataBufferTTL = v
	}
	if v, ok := envSeconds("BROKER_DLDATA_BUFFER_SWEEP_INTERVAL_SECONDS"); ok {
		c.DlDataBufferSweepInterval = v
	}
	if v, ok := envInt("BROKER_CACHE_ULDATA_SIZE"); ok {
		c.CacheUlDataSize = v
	}
	if v, ok := envInt("BROKER_CACHE_DLDATA_SIZE"); ok {
		c.CacheDlDataSize = v
	}
	if v, ok := envInt("BROKER_CACHE_DLDATA_PUB_SIZE"); ok {
		c.CacheDlDataPubSize = v
	}
	if v := os.Getenv("BROKER_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("BROKER_TRACING_COLLECTOR_ENDPOINT"); v != "" {
		c.TracingCollectorEndpoint = v
	}
	if v := os.Getenv("BROKER_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("BROKER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	return c
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envSeconds(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
