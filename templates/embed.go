// Package templates embeds the default configuration and workspace docs.
package templates

import "embed"

//go:embed config.yaml warden.md
var FS embed.FS
