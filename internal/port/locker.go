package port

import "context"

type Locker interface {
	// Lock blocks until key is held or ctx is done, the returned func releases it
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type IdempotencyGuard interface {
	// Claim records key, returns false if it was already claimed
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets a claimed key so the same request may be retried
	Release(ctx context.Context, key string) error
}
