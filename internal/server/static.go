package server

import "embed"

// staticFS holds the single-page recorder UI.
//
//go:embed static
var staticFS embed.FS
