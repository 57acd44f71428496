// Package workspace derives workspace names from root-marker values.
//
// Each per-workspace store carries a marker record whose value is a
// file-scheme URL pointing somewhere inside the workspace's
// configuration folder, e.g.
//
//	file:///home/u/proj1/.vscode/launch.json
//
// The workspace name is the path segment immediately preceding the
// configuration folder ("proj1" above). The marker is the only input to
// attribution; names are never stored, always recomputed.
package workspace

import (
	"net/url"
	"strings"
)

// MarkerKey is the storage key holding the root-marker value.
const MarkerKey = "debug.selectedroot"

// DefaultControlSegment is the configuration-folder name that anchors
// attribution inside the marker path.
const DefaultControlSegment = ".vscode"

// Resolver maps marker values to workspace names.
//
// The zero value is not usable; construct with NewResolver.
type Resolver struct {
	control string
}

// NewResolver returns a Resolver anchored on the given control segment.
// An empty control falls back to DefaultControlSegment.
func NewResolver(control string) *Resolver {
	if control == "" {
		control = DefaultControlSegment
	}
	return &Resolver{control: control}
}

// Resolve derives a workspace name from a marker value.
//
// It returns ("", false) when markerValue is not a string, does not
// parse as a file-scheme URL, lacks the control segment, or the control
// segment is the first path component. Malformed input never panics;
// callers skip the owning store on failure.
func (r *Resolver) Resolve(markerValue any) (string, bool) {
	s, ok := markerValue.(string)
	if !ok || s == "" {
		return "", false
	}

	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" {
		return "", false
	}

	segments := splitPath(u.Path)
	for i, seg := range segments {
		if seg != r.control {
			continue
		}
		if i == 0 {
			// Nothing precedes the control segment.
			return "", false
		}
		return segments[i-1], true
	}

	return "", false
}

// splitPath breaks a URL path into its non-empty segments.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
