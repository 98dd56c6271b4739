// Package configs embeds the configuration template written by
// `seekly config init`.
//
// The template documents every key with its default value; keys whose
// default depends on the machine (data paths) are left commented out.
package configs

import _ "embed"

// ConfigTemplate is the annotated default configuration.
//
//go:embed seekly.example.yaml
var ConfigTemplate string
