// Package versionutil normalizes build version strings.
package versionutil

import "strings"

// EnsureVPrefix returns s with a leading "v" if it doesn't already have one.
// Release tooling strips the prefix while git describe keeps it; stored
// versions always carry it.
func EnsureVPrefix(s string) string {
	if s != "" && !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}
