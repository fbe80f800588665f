package api

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/jaimegago/mcpbridge/internal/llm"
	"github.com/jaimegago/mcpbridge/internal/mcp"
	"github.com/jaimegago/mcpbridge/internal/useragent"
)

// Error kinds carried in ErrorResponse.Kind
const (
	KindNotConnected    = "not_connected"
	KindProtocol        = "protocol_error"
	KindModelAPIFailure = "model_api_failure"
	KindMaxRounds       = "round_limit"
	KindCancelled       = "cancelled"
	KindBadRequest      = "bad_request"
	KindInternal        = "internal"
)

// StatusClientClosedRequest is the non-standard status for a request the
// client abandoned
const StatusClientClosedRequest = 499

type errorKind struct {
	sentinel error
	kind     string
	status   int
}

// first match wins
var errorKinds = []errorKind{
	{context.Canceled, KindCancelled, StatusClientClosedRequest},
	{mcp.ErrNotConnected, KindNotConnected, http.StatusServiceUnavailable},
	{mcp.ErrConnectionClosed, KindNotConnected, http.StatusServiceUnavailable},
	{mcp.ErrProtocol, KindProtocol, http.StatusBadGateway},
	{llm.ErrModelAPIFailure, KindModelAPIFailure, http.StatusBadGateway},
	{useragent.ErrMaxRounds, KindMaxRounds, http.StatusUnprocessableEntity},
}

// Classify maps an error to its wire kind and HTTP status
func Classify(err error) (kind string, status int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k.kind, k.status
		}
	}
	return KindInternal, http.StatusInternalServerError
}

// Sentinel returns the error value a kind stands for, or nil
func Sentinel(kind string) error {
	for _, k := range errorKinds {
		if k.kind == kind {
			return k.sentinel
		}
	}
	return nil
}
