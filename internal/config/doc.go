// Package config loads lanrelay settings from YAML on top of built-in
// defaults. Command-line flags are applied by the caller after Load.
package config
