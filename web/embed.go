// Package web embeds the RiffQuest page templates and the search assets
// (stylesheet and autocomplete script).
package web

import "embed"

// TemplatesFS holds the layouts, partials and pages parsed by internal/web.
//
//go:embed all:templates
var TemplatesFS embed.FS

// StaticFS holds everything served under /static/.
//
//go:embed all:static
var StaticFS embed.FS
