//go:build !nostatic

package main

import (
	"embed"
	"io/fs"
)

// The web build copies the map SPA into static/ before go build
//
//go:embed static
var staticFS embed.FS

// getStaticFS returns the embedded web app, or false when the build
// shipped no index.html
func getStaticFS() (fs.FS, bool) {
	if _, err := fs.Stat(staticFS, staticRoot()+"/index.html"); err != nil {
		return nil, false
	}
	return staticFS, true
}

// staticRoot returns the subdirectory name in the embedded FS
func staticRoot() string {
	return "static"
}
