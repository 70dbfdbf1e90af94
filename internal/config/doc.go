// Package config provides centralized configuration management for the
// ConnectorHub runtime. A single JSON file describes the API server, the
// operation store and queue backends, connector endpoints, authentication
// and alerting; unset fields fall back to development friendly defaults.
package config
