// Package templates embeds the default configuration seeded by setup.
package templates

import "embed"

//go:embed velora.yaml
var FS embed.FS
