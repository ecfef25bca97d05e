package dispatch

import "fmt"

// ResponseError is the wire-level error object carried by an error response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// The three envelope shapes are disambiguated structurally: a request has a
// method field, an error response has an error field, and a success response
// has a result field. No explicit type tag exists on the wire.

type fullRequest struct {
	ID     *uint64 `json:"id"`
	Method string  `json:"method"`
	Params any     `json:"params"`
}

type requestParams[P any] struct {
	Params P `json:"params"`
}

type successResponse[R any] struct {
	ID     uint64 `json:"id"`
	Result R      `json:"result"`
}

type errorResponse struct {
	ID    uint64        `json:"id"`
	Error ResponseError `json:"error"`
}

// partialIncoming is the approximate shape used to classify inbound payloads
// before a handler decodes the full message. Pointer fields distinguish an
// absent field from a present zero value.
type partialIncoming struct {
	ID     *uint64        `json:"id"`
	Method *string        `json:"method"`
	Error  *ResponseError `json:"error"`
	Result *any           `json:"result"`
}
