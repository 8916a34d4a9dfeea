package appsync

import "errors"

// Common errors returned by sync operations and provider adapters.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, appsync.ErrAuth) {
//	    // Prompt the user to re-enter credentials
//	}
//
// Adapters wrap provider-specific failures around these sentinels with
// fmt.Errorf("...: %w", ...) so the orchestrator can classify them without
// knowing the provider.
var (
	// ErrAuth is returned when credentials are missing, invalid, or
	// expired. Fails the pass before any items are touched.
	ErrAuth = errors.New("authentication failed")

	// ErrNetwork is returned when the provider could not be reached.
	ErrNetwork = errors.New("provider unreachable")

	// ErrRateLimited is returned when the provider rejected the request
	// due to rate limiting.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrItemNotFound is returned when the referenced remote item does
	// not exist. During a push update this triggers stale-mapping
	// recovery rather than failing the pass.
	ErrItemNotFound = errors.New("remote item not found")

	// ErrValidation is returned when the provider rejected the item's
	// content (title too long, unsupported field, etc).
	ErrValidation = errors.New("item rejected by provider")

	// ErrProviderNotRegistered is returned when no adapter constructor
	// is registered for the requested provider.
	ErrProviderNotRegistered = errors.New("provider not registered")

	// ErrProviderDisabled is returned when the provider is registered
	// but disabled in configuration.
	ErrProviderDisabled = errors.New("provider disabled")

	// ErrSyncInProgress is returned when a sync is requested for a
	// provider that already has a pass running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCancelled is returned when a pass was cancelled cooperatively.
	ErrCancelled = errors.New("sync cancelled")

	// ErrConflictNotFound is returned when resolving a conflict that
	// does not exist or was already resolved.
	ErrConflictNotFound = errors.New("conflict not found")
)

// IsRetryable returns true if the error is likely to succeed on retry.
// Only transient transport failures qualify; auth and validation errors
// never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetwork) {
		return true
	}

	// Rate limits clear after backing off
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	return false
}

// IsSyncInProgress returns true if the error means a pass is already
// running for the provider.
func IsSyncInProgress(err error) bool {
	return errors.Is(err, ErrSyncInProgress)
}

// IsItemNotFound returns true if the error means the referenced remote
// item no longer exists.
func IsItemNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

// IsAuthError returns true if the error requires the user to fix
// credentials before any further sync can succeed.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsFatal returns true if the error indicates the pass cannot proceed
// at all, as opposed to a single item failing.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAuth) {
		return true
	}

	if errors.Is(err, ErrProviderNotRegistered) {
		return true
	}

	if errors.Is(err, ErrProviderDisabled) {
		return true
	}

	return false
}
