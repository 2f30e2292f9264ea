package treehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dogmatiq/treekit/tree"
)

// Client is an implementation of [tree.Tree] that performs each operation
// against a remote server built around a [Handler].
type Client struct {
	// BaseURL is the URL of the server, without the /tree/entries path.
	BaseURL string

	// HTTPClient is the HTTP client used to send requests. If it is nil,
	// [http.DefaultClient] is used.
	HTTPClient *http.Client
}

var _ tree.Tree = (*Client)(nil)

// Name returns the URL of the server that the client operates on.
func (c *Client) Name() string {
	return c.BaseURL
}

func (c *Client) Get(ctx context.Context, k []byte) ([]byte, bool, error) {
	return c.entryValue(ctx, http.MethodGet, getPath, keyRequest{Key: wireBytes(k)})
}

func (c *Client) Set(ctx context.Context, k, v []byte) ([]byte, bool, error) {
	return c.entryValue(
		ctx,
		http.MethodPost,
		setPath,
		setRequest{Key: wireBytes(k), Value: wireBytes(v)},
	)
}

func (c *Client) Delete(ctx context.Context, k []byte) ([]byte, bool, error) {
	return c.entryValue(ctx, http.MethodDelete, delPath, keyRequest{Key: wireBytes(k)})
}

func (c *Client) CompareAndSwap(ctx context.Context, k []byte, expected, proposed tree.Value) error {
	var res casResponse
	if err := c.do(
		ctx,
		http.MethodPut,
		casPath,
		casRequest{
			Key:      wireBytes(k),
			Expected: marshalValue(expected),
			Proposed: marshalValue(proposed),
		},
		&res,
	); err != nil {
		return err
	}

	if res.Conflict != nil {
		return tree.ConflictError{
			Tree:    c.Name(),
			Key:     k,
			Current: unmarshalValue(res.Conflict.Current),
		}
	}

	return nil
}

func (c *Client) Merge(ctx context.Context, k, operand []byte) ([]byte, bool, error) {
	return c.entryValue(
		ctx,
		http.MethodPost,
		mergePath,
		setRequest{Key: wireBytes(k), Value: wireBytes(operand)},
	)
}

func (c *Client) Flush(ctx context.Context) error {
	var res struct{}
	return c.do(ctx, http.MethodPost, flushPath, emptyRequest{}, &res)
}

func (c *Client) Max(ctx context.Context) (tree.Entry, bool, error) {
	return c.entry(ctx, maxPath, emptyRequest{})
}

func (c *Client) Pred(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return c.entry(ctx, predPath, keyRequest{Key: wireBytes(k)})
}

func (c *Client) PredInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return c.entry(ctx, predInclPath, keyRequest{Key: wireBytes(k)})
}

func (c *Client) Succ(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return c.entry(ctx, succPath, keyRequest{Key: wireBytes(k)})
}

func (c *Client) SuccInclusive(ctx context.Context, k []byte) (tree.Entry, bool, error) {
	return c.entry(ctx, succInclPath, keyRequest{Key: wireBytes(k)})
}

func (c *Client) Range(ctx context.Context, fn tree.RangeFunc) error {
	return c.entries(ctx, iterPath, emptyRequest{}, fn)
}

func (c *Client) RangeFrom(ctx context.Context, k []byte, fn tree.RangeFunc) error {
	return c.entries(ctx, scanPath, scanRequest{From: wireBytes(k)}, fn)
}

func (c *Client) RangeBetween(ctx context.Context, start, end []byte, fn tree.RangeFunc) error {
	return c.entries(
		ctx,
		scanRangePath,
		scanRangeRequest{Start: wireBytes(start), End: wireBytes(end)},
		fn,
	)
}

// Close releases any idle connections held open by the client.
func (c *Client) Close() error {
	if c.HTTPClient != nil {
		c.HTTPClient.CloseIdleConnections()
	}
	return nil
}

// entryValue performs an operation whose success payload is an optional entry,
// and returns the entry's value.
func (c *Client) entryValue(
	ctx context.Context,
	method, path string,
	req any,
) ([]byte, bool, error) {
	var res entryResponse
	if err := c.do(ctx, method, path, req, &res); err != nil {
		return nil, false, err
	}

	if res.Entry == nil {
		return nil, false, nil
	}

	return res.Entry.Value, true, nil
}

// entry performs a directional lookup.
func (c *Client) entry(
	ctx context.Context,
	path string,
	req any,
) (tree.Entry, bool, error) {
	var res entryResponse
	if err := c.do(ctx, http.MethodGet, path, req, &res); err != nil {
		return tree.Entry{}, false, err
	}

	if res.Entry == nil {
		return tree.Entry{}, false, nil
	}

	return tree.Entry{
		Key:   res.Entry.Key,
		Value: res.Entry.Value,
	}, true, nil
}

// entries performs an iteration and calls fn for each entry in the result.
//
// The whole sequence is received before fn is first called; returning false
// from fn stops the local traversal only.
func (c *Client) entries(
	ctx context.Context,
	path string,
	req any,
	fn tree.RangeFunc,
) error {
	var res entriesResponse
	if err := c.do(ctx, http.MethodGet, path, req, &res); err != nil {
		return err
	}

	for _, e := range res.Entries {
		ok, err := fn(ctx, e.Key, e.Value)
		if !ok || err != nil {
			return err
		}
	}

	return nil
}

// do sends a single request and decodes the response into res.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	req, res any,
) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("cannot marshal request body: %w", err)
	}

	hreq, err := http.NewRequestWithContext(
		ctx,
		method,
		c.BaseURL+path,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("cannot build request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	hres, err := hc.Do(hreq)
	if err != nil {
		return TransportError{Err: err}
	}
	defer hres.Body.Close()

	data, err := io.ReadAll(hres.Body)
	if err != nil {
		return TransportError{Err: err}
	}

	if hres.StatusCode < 200 || hres.StatusCode > 299 {
		var failure errorResponse
		if err := json.Unmarshal(data, &failure); err != nil {
			return TransportError{
				Err: fmt.Errorf("failure response is not a valid JSON document: %w", err),
			}
		}

		return ServerError{
			Status:  hres.StatusCode,
			Kind:    failure.Error.Kind,
			Message: failure.Error.Message,
		}
	}

	if err := json.Unmarshal(data, res); err != nil {
		return TransportError{
			Err: fmt.Errorf("response is not a valid JSON document: %w", err),
		}
	}

	return nil
}
