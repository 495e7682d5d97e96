// Package faults classifies location and network failures into the small set
// of kinds the agent and customer clients show to people.
package faults

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
)

type Kind string

const (
	PermissionDenied    Kind = "PermissionDenied"
	PositionUnavailable Kind = "PositionUnavailable"
	AcquisitionTimeout  Kind = "AcquisitionTimeout"
	NetworkFailure      Kind = "NetworkFailure"
	TrackingUnavailable Kind = "TrackingUnavailable"
	Unknown             Kind = "Unknown"
)

var userMessages = map[Kind]string{
	PermissionDenied:    "Location access was denied. Enable location permission for this app in your device settings and start sharing again.",
	PositionUnavailable: "Your location could not be determined. Check that GPS is on and you have a signal, then try again.",
	AcquisitionTimeout:  "Getting your location took too long. Move to an open area and start sharing again.",
	NetworkFailure:      "Could not reach the server. Check your connection and retry.",
	TrackingUnavailable: "Live tracking is not available yet. It starts once a delivery agent is on the way.",
	Unknown:             "Something went wrong while getting your location. Try again.",
}

// Fault is a classified failure. Message is meant for people; Cause carries the
// technical detail for logs.
type Fault struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, cause error) *Fault {
	return &Fault{Kind: kind, Message: UserMessage(kind), Cause: cause}
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Cause)
	}
	return string(f.Kind)
}

func (f *Fault) Unwrap() error { return f.Cause }

// Retryable reports whether the operation can succeed on its own if tried again.
func (f *Fault) Retryable() bool {
	switch f.Kind {
	case AcquisitionTimeout, NetworkFailure:
		return true
	}
	return false
}

func UserMessage(kind Kind) string {
	if m, ok := userMessages[kind]; ok {
		return m
	}
	return userMessages[Unknown]
}

// Is reports whether err is a Fault of the given kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	if stderrors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// Network wraps a transport-level error. Context cancellation is passed through
// unchanged so callers can tell a shutdown from a failure.
func Network(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	var f *Fault
	if stderrors.As(err, &f) {
		return err
	}
	return New(NetworkFailure, err)
}

// IsTimeout reports whether err is a deadline or net timeout.
func IsTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}
