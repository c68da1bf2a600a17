package dedupe

import (
	"context"
	"time"
)

// Result is the outcome of a CheckAndInsert call.
type Result string

const (
	Fresh     Result = "FRESH"
	Duplicate Result = "DUPLICATE"
)

// Index records fingerprints with an expiry. CheckAndInsert must be atomic
// per fingerprint: of two concurrent calls for the same unexpired
// fingerprint, exactly one observes Fresh.
type Index interface {
	CheckAndInsert(ctx context.Context, fingerprint string, window time.Duration) (Result, error)
	// Forget removes a fingerprint so the lead may be submitted again.
	Forget(ctx context.Context, fingerprint string) error
}
