// Package config loads passync settings from a TOML file.
//
// A missing file yields Default(). Durations are written as strings such as
// "30s" or "168h".
package config
