package http_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boneybank/boneybank/kit/platform/errors"
	kithttp "github.com/boneybank/boneybank/kit/transport/http"
	"github.com/stretchr/testify/require"
)

func TestEncodeError(t *testing.T) {
	w := httptest.NewRecorder()
	kithttp.ErrorHandler(0).HandleHTTPError(context.Background(), nil, w)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestEncodeErrorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "unavailable",
			err:    errors.Unavailable("replication.Tentative"),
			status: http.StatusServiceUnavailable,
			code:   errors.EUnavailable,
		},
		{
			name:   "invalid",
			err:    errors.Invalid("replication.Deposit", "negative amount %g", -1.0),
			status: http.StatusBadRequest,
			code:   errors.EInvalid,
		},
		{
			name:   "plain error",
			err:    fmt.Errorf("disk on fire"),
			status: http.StatusInternalServerError,
			code:   errors.EInternal,
		},
		{
			name:   "conflict",
			err:    &errors.Error{Code: errors.EConflict, Msg: "not primary"},
			status: http.StatusConflict,
			code:   errors.EConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			kithttp.ErrorHandler(0).HandleHTTPError(context.Background(), tt.err, w)

			require.Equal(t, tt.status, w.Code)
			require.Equal(t, tt.code, w.Header().Get(kithttp.PlatformErrorCodeHeader))

			err := kithttp.CheckError(w.Result())
			require.Error(t, err)
			require.Equal(t, tt.code, errors.ErrorCode(err))
		})
	}
}

func TestCheckError_PlainText(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/plain")
	rec.WriteHeader(http.StatusServiceUnavailable)
	_, _ = rec.WriteString("upstream gone\nmore")

	err := kithttp.CheckError(rec.Result())
	require.Equal(t, errors.EUnavailable, errors.ErrorCode(err))
	require.True(t, strings.HasPrefix(err.Error(), "upstream gone"))
}

func TestCheckError_Success(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	require.NoError(t, kithttp.CheckError(rec.Result()))
}
