// Package config loads the photo frame configuration from a TOML or YAML
// file, falling back to built-in defaults for anything left unset.
package config
