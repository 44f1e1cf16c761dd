package http

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/boneybank/boneybank/kit/platform/errors"
)

// PlatformErrorCodeHeader shows the error code of platform error.
const PlatformErrorCodeHeader = "X-Platform-Error-Code"

// ErrorHandler is the error handler in http package.
type ErrorHandler int

// HandleHTTPError encodes err with the appropriate status code and format,
// sets the X-Platform-Error-Code headers on the response.
func (h ErrorHandler) HandleHTTPError(ctx context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		return
	}

	code := errors.ErrorCode(err)
	httpCode, ok := statusCodePlatformError[code]
	if !ok {
		httpCode = http.StatusBadRequest
	}
	w.Header().Set(PlatformErrorCodeHeader, code)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpCode)

	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = &errors.Error{Code: code, Msg: "An internal error has occurred", Err: err}
	}
	b, _ := json.Marshal(e)
	_, _ = w.Write(b)
}

// statusCodePlatformError is the map convert platform.Error to error
var statusCodePlatformError = map[string]int{
	errors.EInternal:    http.StatusInternalServerError,
	errors.EInvalid:     http.StatusBadRequest,
	errors.EConflict:    http.StatusConflict,
	errors.ENotFound:    http.StatusNotFound,
	errors.EUnavailable: http.StatusServiceUnavailable,
	errors.EGap:         http.StatusPreconditionFailed,
}

// StatusCodeToErrorCode maps a http status code integer to an
// error code.
func StatusCodeToErrorCode(statusCode int) string {
	for k, v := range statusCodePlatformError {
		if v == statusCode {
			return k
		}
	}
	return errors.EInternal
}

// CheckError reads the http.Response and returns an error if one exists.
// It recognizes the errors encoded by HandleHTTPError and decodes them into
// an *errors.Error. If the error cannot be determined in that way, it
// creates a generic error message.
//
// If there is no error, then this returns nil.
func CheckError(resp *http.Response) error {
	switch resp.StatusCode / 100 {
	case 4, 5:
	case 2:
		return nil
	default:
		return &errors.Error{
			Code: errors.EInternal,
			Msg:  fmt.Sprintf("unexpected status code: %d %s", resp.StatusCode, resp.Status),
		}
	}

	perr := &errors.Error{
		Code: StatusCodeToErrorCode(resp.StatusCode),
	}
	if code := resp.Header.Get(PlatformErrorCodeHeader); code != "" {
		perr.Code = code
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		// Assume JSON if there is no content-type.
		contentType = "application/json"
	}
	mediatype, _, _ := mime.ParseMediaType(contentType)

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		perr.Msg = "failed to read error response"
		perr.Err = err
		return perr
	}

	switch mediatype {
	case "application/json":
		code := perr.Code
		if err := json.Unmarshal(buf.Bytes(), perr); err != nil {
			perr.Msg = fmt.Sprintf("attempted to unmarshal error as JSON but failed: %q", err)
			perr.Err = firstLineAsError(buf)
		}
		if perr.Code == "" {
			perr.Code = code
		}
	default:
		perr.Err = firstLineAsError(buf)
	}
	return perr
}

func firstLineAsError(buf bytes.Buffer) error {
	line, _ := buf.ReadString('\n')
	return stderrors.New(strings.TrimSuffix(line, "\n"))
}
