package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a held lock.
type UnlockFunc func(ctx context.Context) error

// CampaignLocker serializes orchestrators: at most one control loop may drive
// a given design at a time. Implementations must be safe against releasing a
// lock another holder re-acquired after expiry.
type CampaignLocker interface {
	// Lock blocks until the lock for key is acquired or ctx is done. The lock
	// expires after ttl if not released.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
