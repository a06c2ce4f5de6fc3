package broker

import "time"

// NextBackoff computes the retry delay after a failed delivery:
// min(backoffMax, backoffMin * 2^(attempts-1)) seconds. The first failure
// waits backoffMin, the second 2*backoffMin, and so on, capped at backoffMax.
// The SQL nack statement computes the same expression server-side; this is
// the reference implementation used by tests and documentation.
func NextBackoff(backoffMinSeconds, backoffMaxSeconds, deliveryAttempts int) time.Duration {
	if deliveryAttempts < 1 {
		deliveryAttempts = 1
	}
	backoff := int64(backoffMinSeconds)
	for i := 1; i < deliveryAttempts; i++ {
		backoff *= 2
		if backoff >= int64(backoffMaxSeconds) {
			backoff = int64(backoffMaxSeconds)
			break
		}
	}
	if backoff > int64(backoffMaxSeconds) {
		backoff = int64(backoffMaxSeconds)
	}
	return time.Duration(backoff) * time.Second
}
