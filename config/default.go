// Package config carries the embedded default configuration file.
package config

import _ "embed"

// Default is the embedded default configuration in YAML form.
//
//go:embed conf.yaml
var Default []byte
