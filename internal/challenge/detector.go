// Package challenge recognizes anti-bot interstitials served in place of real pages.
package challenge

import "bytes"

// DefaultMarkers are substrings known to appear only on challenge pages.
var DefaultMarkers = []string{
	"AwsWafIntegration.checkForceRefresh",
	"challenge-platform",
	"cf-browser-verification",
}

// Detector matches response bodies against a fixed marker list.
type Detector struct {
	markers [][]byte
}

// New creates a detector. An empty marker list falls back to DefaultMarkers.
func New(markers []string) *Detector {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	d := &Detector{markers: make([][]byte, 0, len(markers))}
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		d.markers = append(d.markers, bytes.ToLower([]byte(marker)))
	}
	return d
}

// Detect reports whether body contains any challenge marker, ignoring case.
func (d *Detector) Detect(body []byte) bool {
	if d == nil || len(body) == 0 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range d.markers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
