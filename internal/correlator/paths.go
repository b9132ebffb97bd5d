// Tracearr - Media Request Lifecycle Tracking for the Arr Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracearr

package correlator

import (
	"path"
	"strings"
)

// pathsMatch compares two already-normalized paths. Services report the
// same file at different depths (absolute, library-relative, or bare
// filename), so three rules apply in order:
//
//  1. exact equality
//  2. one path is a trailing segment of the other on a '/' boundary
//  3. same basename and same immediate parent directory
func pathsMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if hasPathSuffix(a, b) || hasPathSuffix(b, a) {
		return true
	}
	if path.Base(a) == path.Base(b) {
		da, db := path.Base(path.Dir(a)), path.Base(path.Dir(b))
		if da != "." && da == db {
			return true
		}
	}
	return false
}

// hasPathSuffix reports whether suffix is a trailing sub-path of full,
// aligned to a path separator.
func hasPathSuffix(full, suffix string) bool {
	if !strings.HasSuffix(full, suffix) {
		return false
	}
	if len(full) == len(suffix) {
		return true
	}
	return full[len(full)-len(suffix)-1] == '/'
}
