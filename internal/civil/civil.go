// Package civil computes school-day dates in Korea Standard Time. All ticket
// issuance, verification, and stale-flag bookkeeping key on these dates so
// that device-local timezones never influence the outcome.
package civil

import "time"

// KST is fixed UTC+9. Korea has no daylight saving.
var KST = time.FixedZone("KST", 9*60*60)

// Date formats the instant as YYYY-MM-DD in KST.
func Date(t time.Time) string {
	return t.In(KST).Format("2006-01-02")
}

// Today returns the current civil date using the supplied clock. A nil clock
// falls back to time.Now.
func Today(clock func() time.Time) string {
	if clock == nil {
		clock = time.Now
	}
	return Date(clock())
}
