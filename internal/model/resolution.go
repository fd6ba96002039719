package model

import "strings"

// Resolution is the candle bucket size requested by a user.
type Resolution string

const (
	Resolution1h Resolution = "1h"
	Resolution4h Resolution = "4h"
	Resolution1d Resolution = "1d"
)

// Resolutions lists every supported resolution in display order.
var Resolutions = []Resolution{Resolution1h, Resolution4h, Resolution1d}

// ParseResolution maps a user token onto a supported resolution.
func ParseResolution(s string) (Resolution, bool) {
	r := Resolution(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Resolutions {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// Label returns the upper-cased form used in report headers ("4H").
func (r Resolution) Label() string {
	return strings.ToUpper(string(r))
}

func (r Resolution) String() string { return string(r) }
