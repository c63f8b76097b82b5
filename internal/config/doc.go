// Package config loads the transcriber configuration from a YAML file.
// Secrets and endpoints may be supplied through TRANSCRIBER_* environment
// variables or an optional .env file, which take precedence over the file.
package config
