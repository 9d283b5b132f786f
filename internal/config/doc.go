// Package config loads, normalizes, and validates relay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RELAY_API_TOKEN, optionally sourced from a .env file. The Config type
// centralizes every knob the daemon and CLI need so the data directory, the
// remote API endpoints and the coordinator timing are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
