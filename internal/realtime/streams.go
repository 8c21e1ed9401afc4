package realtime

// Named realtime streams.
const (
	// StreamEligibility carries per-user eligibility record updates, so a
	// student's ticket page reflects approval and redemption without a reload.
	StreamEligibility = "eligibility"

	// StreamRedemptions is the teacher/admin feed of accepted scans.
	StreamRedemptions = "redemptions"
)
