package core

import "time"

// Record is the resident transaction record per spec.md §3. WirePayload,
// Signature and the routing metadata are immutable after insertion;
// RetryCount is the only field the retry loop mutates in place.
type Record struct {
	WirePayload []byte
	Signature   string
	SubmittedAt time.Time
	RetryCount  int
	MaxRetries  int
	RoutePort   uint16
	APIKey      string
}

// LeaderEntry is one candidate destination yielded by a LeaderSource
// snapshot. Per spec.md §9 Open Question 4, entries carry only an IP — the
// destination port always comes from the record being sent, never from the
// leader source (a static leader's "real" port would be a meaningless
// sentinel, so the type has no port field to misuse).
type LeaderEntry struct {
	IP string
	// Trusted marks the entry as present on the preferred-validator side
	// list (spec.md §1). It is an annotation only: it never gates whether a
	// send happens, and no metric reads it.
	Trusted bool
}
