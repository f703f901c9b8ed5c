package geoloc

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrInvalidMetadata is returned when the geolocation metadata is missing a
	// required key, holds a value that cannot be parsed, or describes X/Y arrays
	// of inconsistent shape.
	ErrInvalidMetadata = errors.New("invalid geolocation metadata")
	// ErrUnreadableSource is returned when an X or Y sample array cannot be read
	ErrUnreadableSource = errors.New("unreadable geolocation source")
	// ErrNoBracket reports that no grid cell contains the requested coordinate
	ErrNoBracket = errors.New("no bracketing quadrilateral")
	// ErrDegenerateGrid is reported through the ErrorHandler when a grid has no
	// usable quadrilateral. It never aborts construction on its own.
	ErrDegenerateGrid = errors.New("degenerate geolocation grid")
)

// ErrorCategory is the severity of a message passed to an ErrorHandler
type ErrorCategory int

const (
	// CE_None is not an error
	CE_None ErrorCategory = iota
	// CE_Debug is a debug level
	CE_Debug
	// CE_Warning is a warning level
	CE_Warning
	// CE_Failure is an error
	CE_Failure
	// CE_Fatal is an unrecoverable error
	CE_Fatal
)

func (ec ErrorCategory) String() string {
	switch ec {
	case CE_None:
		return "none"
	case CE_Debug:
		return "debug"
	case CE_Warning:
		return "warning"
	case CE_Failure:
		return "failure"
	case CE_Fatal:
		return "fatal"
	}
	return fmt.Sprintf("category(%d)", int(ec))
}

// Error codes passed alongside an ErrorCategory
const (
	CodeAppDefined   = 1
	CodeOpenFailed   = 4
	CodeIllegalArg   = 5
	CodeNotSupported = 6
)

// ErrorHandler is a function that can be used to intercept the warnings emitted
// while building or running a transformer. When an ErrorHandler is passed as an
// option, every warning is passed to this function, which can decide wether
// the message corresponds to an actual error or not.
//
// If the ErrorHandler returns nil, the parent function will not return an error. It is up
// to the ErrorHandler to log the message if needed.
//
// If the ErrorHandler returns an error, that error will be returned as-is to the caller
// of the parent function
type ErrorHandler func(ec ErrorCategory, code int, msg string) error

type errorCallback struct {
	fn ErrorHandler
}

// ErrLogger installs an ErrorHandler on the call it is passed to. Without one,
// warnings are logged at debug level and otherwise ignored.
func ErrLogger(fn ErrorHandler) interface {
	GeolocOption
	TransformerOption
	WarpOption
} {
	return errorCallback{fn}
}

func (ec errorCallback) setGeolocOpt(o *geolocOpts) {
	o.errorHandler = ec.fn
}
func (ec errorCallback) setTransformerOpt(o *transformerOpts) {
	o.errorHandler = ec.fn
}
func (ec errorCallback) setWarpOpt(o *warpOpts) {
	o.errorHandler = ec.fn
}

// reporter forwards warnings to an ErrorHandler, or to a logger when none is set
type reporter struct {
	eh     ErrorHandler
	logger *slog.Logger
}

func (r reporter) warnf(code int, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if r.eh != nil {
		return r.eh(CE_Warning, code, msg)
	}
	if r.logger != nil {
		r.logger.Debug(msg, "code", code)
	}
	return nil
}
