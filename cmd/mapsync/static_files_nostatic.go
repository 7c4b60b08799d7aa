//go:build nostatic

package main

import "io/fs"

// getStaticFS reports no web app in API-only builds
func getStaticFS() (fs.FS, bool) {
	return nil, false
}

func staticRoot() string {
	return ""
}
