// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package mock provides a scripted HTTP client for tests that exercise
// instance discovery without a network.
package mock

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

type response struct {
	body     []byte
	callback func(*http.Request)
	code     int
	headers  http.Header
}

type responseOption interface {
	apply(*response)
}

type respOpt func(*response)

func (fn respOpt) apply(r *response) {
	fn(r)
}

// WithBody sets the HTTP response's body to the specified value.
func WithBody(b []byte) responseOption {
	return respOpt(func(r *response) {
		r.body = b
	})
}

// WithCallback sets a callback to invoke before returning the response.
func WithCallback(callback func(*http.Request)) responseOption {
	return respOpt(func(r *response) {
		r.callback = callback
	})
}

// WithHTTPStatusCode sets the HTTP statusCode of response to the specified value.
func WithHTTPStatusCode(statusCode int) responseOption {
	return respOpt(func(r *response) {
		r.code = statusCode
	})
}

// Client is a mock HTTP client that returns a sequence of responses. Use
// AppendResponse to specify the sequence.
type Client struct {
	mu   sync.Mutex
	resp []response
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) AppendResponse(opts ...responseOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := response{code: http.StatusOK, headers: http.Header{}}
	for _, o := range opts {
		o.apply(&r)
	}
	c.resp = append(c.resp, r)
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.resp) == 0 {
		return nil, fmt.Errorf("no scripted response for %s", req.URL)
	}
	r := c.resp[0]
	c.resp = c.resp[1:]
	if r.callback != nil {
		r.callback(req)
	}
	return &http.Response{
		StatusCode: r.code,
		Header:     r.headers,
		Body:       io.NopCloser(bytes.NewReader(r.body)),
		Request:    req,
	}, nil
}
