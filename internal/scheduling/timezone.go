package scheduling

import (
	"strings"
	"time"
)

// ResolveOffset returns the UTC offset of zone at instant in minutes.
// failed is true when the zone cannot be loaded; the offset is then 0.
func ResolveOffset(zone string, instant time.Time) (offsetMinutes int, failed bool) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		return 0, true
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return 0, true
	}
	_, seconds := instant.In(loc).Zone()
	return seconds / 60, false
}
