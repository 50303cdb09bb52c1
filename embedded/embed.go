package embedded

import (
	_ "embed"
)

//go:embed config.yaml
var defaultConfig []byte

// DefaultConfig returns the built-in configuration file.
func DefaultConfig() []byte {
	return defaultConfig
}
