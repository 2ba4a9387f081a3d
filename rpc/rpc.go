// Package rpc implements request/response calls on top of MQ topics
//
// Calls are produced to topic with ack disabled, consumed by Server
// and answered with route command back to the producing connection.
// Methods are dispatched through explicit table of handlers keyed by module:method.
package rpc

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrMissingMethod request without method
	ErrMissingMethod = errors.New("rpc: missing method")
	// ErrMethodNotFound no handler registered for module:method
	ErrMethodNotFound = errors.New("rpc: method not found")
	// ErrBadParams params do not match handler signature
	ErrBadParams = errors.New("rpc: bad params")
	// ErrDuplicate handler already registered
	ErrDuplicate = errors.New("rpc: method already registered")
)

// Request ...
type Request struct {
	Module string                `json:"module,omitempty"`
	Method string                `json:"method"`
	Params []jsoniter.RawMessage `json:"params,omitempty"`
}

// Response Error set means failure, Result is undefined then
type Response struct {
	Result jsoniter.RawMessage `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// RemoteError failure reported by server side of call
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return "rpc: remote error (" + strconv.Itoa(e.Status) + "): " + e.Message
}

// NewRequest encode params
func NewRequest(module, method string, params ...interface{}) (*Request, error) {
	req := &Request{
		Module: module,
		Method: method,
	}

	for i, p := range params {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, errors.Wrapf(err, "encode param %d", i)
		}

		req.Params = append(req.Params, data)
	}

	return req, nil
}

// Key of request in handler table
func (r *Request) Key() string {
	return Key(r.Module, r.Method)
}

// Key module:method, method alone for empty module
func Key(module, method string) string {
	if len(module) == 0 {
		return method
	}

	return module + ":" + method
}

// Bind decode params into dst in order
// count of params must match count of dst
func Bind(params []jsoniter.RawMessage, dst ...interface{}) error {
	if len(params) != len(dst) {
		return errors.Wrapf(ErrBadParams, "expected %d params, got %d", len(dst), len(params))
	}

	for i, p := range params {
		if err := json.Unmarshal(p, dst[i]); err != nil {
			return errors.Wrapf(ErrBadParams, "param %d: %s", i, err.Error())
		}
	}

	return nil
}

// Decode result into v
func (r *Response) Decode(v interface{}) error {
	if len(r.Error) > 0 {
		return &RemoteError{Status: 200, Message: r.Error}
	}

	if v == nil || len(r.Result) == 0 {
		return nil
	}

	return json.Unmarshal(r.Result, v)
}
