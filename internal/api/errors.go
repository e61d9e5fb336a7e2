package api

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error codes carried by APIError and by failed backtest responses.
const (
	CodeInvalidStrategy = "INVALID_STRATEGY"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeDataNotFound    = "DATA_NOT_FOUND"
	CodeNotFound        = "NOT_FOUND"
	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeTimeout         = "TIMEOUT"
)

// APIError is a request that could not be served. Details carries
// structured context such as a source position.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, format string, args ...any) *APIError {
	return &APIError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// asAPIError converts any error to an APIError. Errors that are not
// already APIErrors become EXECUTION_FAILED.
func asAPIError(err error) *APIError {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}
	return &APIError{Code: CodeExecutionFailed, Message: err.Error()}
}

// httpStatus maps an error code to its HTTP status.
func httpStatus(code string) int {
	switch code {
	case CodeInvalidParams:
		return http.StatusBadRequest
	case CodeInvalidStrategy:
		return http.StatusUnprocessableEntity
	case CodeDataNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// grpcStatus maps err to a gRPC status error.
func grpcStatus(err error) error {
	ae := asAPIError(err)
	var c codes.Code
	switch ae.Code {
	case CodeInvalidParams, CodeInvalidStrategy:
		c = codes.InvalidArgument
	case CodeDataNotFound, CodeNotFound:
		c = codes.NotFound
	case CodeTimeout:
		c = codes.DeadlineExceeded
	default:
		c = codes.Internal
	}
	return status.Error(c, ae.Error())
}
