// Package http serves the boneybank RPC surfaces over HTTP with JSON bodies
// and provides the matching clients.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boneybank/boneybank/kit/platform/errors"
	kithttp "github.com/boneybank/boneybank/kit/transport/http"
	"github.com/boneybank/boneybank/pkg/retry"
)

// DefaultDialTimeout bounds a single connection attempt to a node.
const DefaultDialTimeout = 2 * time.Second

// Client calls one node. Calls that fail with EUnavailable, including calls
// that cannot reach the node at all, are retried according to Retry until
// they succeed or the context is done.
type Client struct {
	Addr  string
	HTTP  *http.Client
	Retry retry.Policy
}

// NewClient returns a client of the node at addr.
func NewClient(addr string, policy retry.Policy) *Client {
	return &Client{
		Addr:  strings.TrimSuffix(addr, "/"),
		HTTP:  &http.Client{Transport: newTransport()},
		Retry: policy,
	}
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = 0
	t.MaxIdleConnsPerHost = 16
	return t
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	return c.Retry.Do(ctx, func() error {
		return c.do(ctx, method, path, in, out)
	})
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Addr+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &errors.Error{
			Code: errors.EUnavailable,
			Op:   method + " " + path,
			Msg:  "node unreachable",
			Err:  err,
		}
	}
	defer resp.Body.Close()

	if err := kithttp.CheckError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errors.Error{
			Code: errors.EInternal,
			Op:   method + " " + path,
			Msg:  "failed to decode response",
			Err:  err,
		}
	}
	return nil
}
