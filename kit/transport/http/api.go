package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/boneybank/boneybank/kit/platform/errors"
	"github.com/boneybank/boneybank/logger"
	"go.uber.org/zap"
)

// API encodes responses and errors the same way for every handler.
type API struct {
	log        *zap.Logger
	errHandler ErrorHandler
}

// APIOptFn is a functional option for NewAPI.
type APIOptFn func(*API)

// WithLog sets the logger used to report errors that cannot be sent to the
// caller.
func WithLog(log *zap.Logger) APIOptFn {
	return func(a *API) {
		a.log = log
	}
}

// NewAPI returns an API with the given options.
func NewAPI(opts ...APIOptFn) *API {
	a := &API{log: zap.NewNop()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// DecodeJSON decodes the body of a request into v.
func (a *API) DecodeJSON(r io.Reader, v interface{}) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return &errors.Error{
			Code: errors.EInvalid,
			Msg:  "failed to decode request body",
			Err:  err,
		}
	}
	return nil
}

// Respond writes v as JSON with the given status. A nil v writes no body.
func (a *API) Respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("Failed to encode response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// Err writes err to the response. Internal errors are logged with the
// request logger when there is one.
func (a *API) Err(w http.ResponseWriter, r *http.Request, err error) {
	if errors.ErrorCode(err) == errors.EInternal {
		log := logger.FromContext(r.Context(), a.log.With(zap.String("path", r.URL.Path)))
		log.Error("Request failed", zap.Error(err))
	}
	a.errHandler.HandleHTTPError(r.Context(), err, w)
}
