package dtmesh

import "errors"

// ErrClosed is returned by Engine methods called after Shutdown.
var ErrClosed = errors.New("dtmesh: engine is shut down")

var (
	errNilTransport = errors.New("dtmesh: Options.Transport is required")
	errEmptyDBPath  = errors.New("dtmesh: Options.DBPath is required")
)
