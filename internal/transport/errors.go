package transport

import "errors"

// ErrCommunicationFailure wraps any exchange that still fails after all
// configured retry attempts. Scan tasks map it to a BAD quality sample.
var ErrCommunicationFailure = errors.New("communication failure")
