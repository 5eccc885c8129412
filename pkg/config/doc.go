// Package config loads the worker's configuration from a YAML file with
// environment variable overrides. Hosts usually pass everything through the
// environment; the file exists for local development.
package config
