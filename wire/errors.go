package wire

import "errors"

// ErrMalformed is returned by UnmarshalMessage when the decoded payload is
// missing a required field or carries an invalid timestamp.
var ErrMalformed = errors.New("wire: malformed network message")
