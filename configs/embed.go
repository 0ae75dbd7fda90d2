// Package configs embeds the configuration template written by
// "hybridrag config init".
package configs

import _ "embed"

// ConfigTemplate documents every setting with its default.
//
//go:embed config.example.yaml
var ConfigTemplate string
