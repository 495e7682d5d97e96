package geolocation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/freshbasket/livetrack/internal/faults"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Nil(t, Classify(nil))
	require.Equal(t, faults.PermissionDenied, Classify(NewError(CodePermissionDenied, "")).Kind)
	require.Equal(t, faults.PositionUnavailable, Classify(NewError(CodePositionUnavailable, "no fix")).Kind)
	require.Equal(t, faults.AcquisitionTimeout, Classify(NewError(CodeTimeout, "")).Kind)
	require.Equal(t, faults.Unknown, Classify(NewError(CodeUnknown, "")).Kind)
	require.Equal(t, faults.AcquisitionTimeout, Classify(fmt.Errorf("get: %w", context.DeadlineExceeded)).Kind)
	require.Equal(t, faults.Unknown, Classify(errors.New("boom")).Kind)

	f := faults.New(faults.NetworkFailure, nil)
	require.Same(t, f, Classify(f))
}

func TestIsTimeout(t *testing.T) {
	require.True(t, IsTimeout(NewError(CodeTimeout, "")))
	require.False(t, IsTimeout(NewError(CodePermissionDenied, "")))
	require.False(t, IsTimeout(nil))
}

func TestOptions_Relaxed(t *testing.T) {
	o := DefaultOptions()
	require.True(t, o.HighAccuracy)
	r := o.Relaxed()
	require.False(t, r.HighAccuracy)
	require.Equal(t, o.Timeout, r.Timeout)
	require.True(t, o.HighAccuracy)
}

func TestError_String(t *testing.T) {
	require.Equal(t, "geolocation: TIMEOUT", NewError(CodeTimeout, "").Error())
	require.Equal(t, "geolocation: PERMISSION_DENIED: user said no", NewError(CodePermissionDenied, "user said no").Error())
}
