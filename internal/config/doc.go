// Package config loads the satchel TOML configuration with ${VAR}
// environment variable expansion and validation of required fields.
package config
