package storagepool

import "errors"

// ErrWormViolation is returned by AssertAccess when a delete is attempted
// against a blob whose WORM lock has not yet expired (spec §4.5, I7).
var ErrWormViolation = errors.New("storagepool: WORM lock has not expired")

// ErrBlobNotFound names the condition of a URI with no known manifest.
// No Pool method returns it; Get surfaces the driver's own load error.
var ErrBlobNotFound = errors.New("storagepool: blob not found")

// ErrNoNodeAvailable is returned when a tier has no registered nodes.
var ErrNoNodeAvailable = errors.New("storagepool: no node available in tier")
