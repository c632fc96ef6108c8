package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := InvalidLayout("unknown widget type").
			WithContext("dashboard_id", "kitchen").
			Build()

		require.Equal(t, CategoryLayout, err.Category())
		require.Equal(t, SeverityFatal, err.Severity())
		require.Equal(t, "unknown widget type", err.Message())
		id, ok := err.Context().GetString("dashboard_id")
		require.True(t, ok)
		require.Equal(t, "kitchen", id)
		require.False(t, err.CanRetry())
	})

	t.Run("Wrapped chain is detected", func(t *testing.T) {
		cause := stderrors.New("disk full")
		err := PublishFailure("write temp file").WithCause(cause).Build()
		wrapped := fmt.Errorf("commit kitchen: %w", err)

		require.True(t, IsPublishFailure(wrapped))
		require.True(t, IsRetryable(wrapped))
		require.ErrorIs(t, wrapped, cause)
		require.Contains(t, err.Error(), "disk full")
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := SnapshotTimeout("snapshot timed out").Build()
		extended := base.WithContext("attempt", 2)
		_, ok := base.Context().Get("attempt")
		require.False(t, ok)
		v, ok := extended.Context().Get("attempt")
		require.True(t, ok)
		require.Equal(t, 2, v)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", stderrors.New("boom"), true},
		{"snapshot timeout", SnapshotTimeout("t").Build(), true},
		{"publish failure", PublishFailure("p").Build(), true},
		{"invalid layout", InvalidLayout("l").Build(), false},
		{"degraded", RenderDegraded("d").Build(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestHTTPErrorAdapter(t *testing.T) {
	a := NewHTTPErrorAdapter(nil)
	require.Equal(t, http.StatusNotFound, a.StatusCodeFor(NotFoundError("dashboard not found").Build()))
	require.Equal(t, http.StatusUnprocessableEntity, a.StatusCodeFor(InvalidLayout("bad").Build()))
	require.Equal(t, http.StatusInternalServerError, a.StatusCodeFor(stderrors.New("x")))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/dashboards/x", nil)
	a.WriteErrorResponse(rec, req, SnapshotTimeout("no snapshot").Build())
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.JSONEq(t, `{"error":"no snapshot","code":"snapshot","retryable":true}`, rec.Body.String())
}

func TestCLIErrorAdapterExitCodes(t *testing.T) {
	a := NewCLIErrorAdapter(false, nil)
	require.Equal(t, 0, a.ExitCodeFor(nil))
	require.Equal(t, 1, a.ExitCodeFor(stderrors.New("x")))
	require.Equal(t, 3, a.ExitCodeFor(InvalidLayout("bad").Build()))
	require.Equal(t, 7, a.ExitCodeFor(ConfigError("bad").Build()))
	require.Equal(t, "Internal error occurred (use -v for details)", a.FormatError(InternalError("x").Build()))
}
