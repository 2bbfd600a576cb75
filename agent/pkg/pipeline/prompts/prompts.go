// Package prompts embeds the system prompts of the pipeline agents.
package prompts

import "embed"

//go:embed *.md
var FS embed.FS
