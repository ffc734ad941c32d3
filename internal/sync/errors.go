package sync

import (
	"errors"

	"github.com/Xveyn/baluhost-sync/internal/nasapi"
)

// Sentinel errors for the sync failure taxonomy. Check with errors.Is.
var (
	// ErrNetworkUnavailable aborts a pass or drain without failing any
	// operation; queued work stays pending for the next attempt.
	ErrNetworkUnavailable = errors.New("sync: network unavailable")

	// ErrAuthExpired is surfaced after the remote client's single token
	// refresh attempt has already failed.
	ErrAuthExpired = errors.New("sync: authentication expired")

	// ErrRemoteIndex marks a pass-level failure to read the remote snapshot.
	ErrRemoteIndex = errors.New("sync: remote index unavailable")

	// ErrLocalAccessDenied is permanent for the affected path until the user
	// re-grants access; it is never retried automatically.
	ErrLocalAccessDenied = errors.New("sync: local access denied")

	// ErrQuotaExceeded is permanent and surfaced without retry.
	ErrQuotaExceeded = errors.New("sync: remote quota exceeded")

	// ErrRemoteConflict means the remote changed mid-operation; detection
	// must re-run for the affected path.
	ErrRemoteConflict = errors.New("sync: remote changed during operation")

	// ErrOperationNotFound is returned by cancel/retry when the operation is
	// absent or already terminal in a way that forbids the request.
	ErrOperationNotFound = errors.New("sync: operation not found")

	// ErrConflictNotFound is returned when resolving an unknown conflict.
	ErrConflictNotFound = errors.New("sync: conflict not found")

	// ErrFolderNotFound is returned for an unknown folder ID.
	ErrFolderNotFound = errors.New("sync: folder not found")
)

// permanent reports whether an execution error must not be retried
// automatically: the operation is marked failed on first occurrence.
func permanent(err error) bool {
	return errors.Is(err, ErrLocalAccessDenied) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, nasapi.ErrQuotaExceeded) ||
		errors.Is(err, nasapi.ErrForbidden)
}

// passAborting reports whether an execution error should abort the whole
// drain pass, leaving remaining operations untouched. Connectivity loss must
// never convert queued work into failures.
func passAborting(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, nasapi.ErrNetwork) ||
		errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, nasapi.ErrUnauthorized)
}

// classifyRemote maps a remote client error onto the pass-level taxonomy.
func classifyRemote(err error) error {
	switch {
	case errors.Is(err, nasapi.ErrNetwork):
		return ErrNetworkUnavailable
	case errors.Is(err, nasapi.ErrUnauthorized):
		return ErrAuthExpired
	default:
		return ErrRemoteIndex
	}
}
