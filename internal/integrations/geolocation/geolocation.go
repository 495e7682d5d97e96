package geolocation

import (
	"context"
	"fmt"
	"time"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/pkg/errors"
)

// Error codes follow the W3C Geolocation API.
type Code int

const (
	CodeUnknown             Code = 0
	CodePermissionDenied    Code = 1
	CodePositionUnavailable Code = 2
	CodeTimeout             Code = 3
)

func (c Code) String() string {
	switch c {
	case CodePermissionDenied:
		return "PERMISSION_DENIED"
	case CodePositionUnavailable:
		return "POSITION_UNAVAILABLE"
	case CodeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geolocation: %s", e.Code)
	}
	return fmt.Sprintf("geolocation: %s: %s", e.Code, e.Message)
}

func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionPrompt  Permission = "prompt"
	PermissionDenied  Permission = "denied"
)

type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaximumAge   time.Duration
}

func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 10 * time.Second}
}

// Relaxed is the option set used for the single low-accuracy retry.
func (o Options) Relaxed() Options {
	o.HighAccuracy = false
	return o
}

// Event carries either a fix or an error; never both.
type Event struct {
	Fix *models.Fix
	Err error
}

// Watch is a live subscription to position updates. Stop is idempotent and
// releases the underlying device handle.
type Watch interface {
	Events() <-chan Event
	Stop()
}

type Source interface {
	Permission(ctx context.Context) (Permission, error)
	CurrentPosition(ctx context.Context, opts Options) (models.Fix, error)
	Watch(ctx context.Context, opts Options) (Watch, error)
}

// Classify maps any acquisition error onto the fault taxonomy.
func Classify(err error) *faults.Fault {
	if err == nil {
		return nil
	}
	var f *faults.Fault
	if errors.As(err, &f) {
		return f
	}
	var ge *Error
	if errors.As(err, &ge) {
		switch ge.Code {
		case CodePermissionDenied:
			return faults.New(faults.PermissionDenied, err)
		case CodePositionUnavailable:
			return faults.New(faults.PositionUnavailable, err)
		case CodeTimeout:
			return faults.New(faults.AcquisitionTimeout, err)
		}
		return faults.New(faults.Unknown, err)
	}
	if faults.IsTimeout(err) {
		return faults.New(faults.AcquisitionTimeout, err)
	}
	return faults.New(faults.Unknown, err)
}

// IsTimeout reports whether err is a timeout-class acquisition failure.
func IsTimeout(err error) bool {
	f := Classify(err)
	return f != nil && f.Kind == faults.AcquisitionTimeout
}
