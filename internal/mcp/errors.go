package mcp

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	// ErrNotConnected is returned when the session was never connected or has been closed
	ErrNotConnected = errors.New("not connected to a tool server")

	// ErrProtocol marks a payload from the server that violates the protocol
	ErrProtocol = errors.New("tool server protocol error")

	// ErrConnectionClosed marks a call that failed because the transport went away
	ErrConnectionClosed = errors.New("tool server connection closed")
)

// convertError marks transport-level failures so callers can tell them apart
// from errors the server reported for a single request.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mcpsdk.ErrConnectionClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return errors.Mark(err, ErrConnectionClosed)
	}
	return err
}

// convertResponseError is convertError for a request whose reply the SDK
// decodes. A reply that does not decode into the expected shape is marked
// ErrProtocol.
func convertResponseError(err error) error {
	err = convertError(err)
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		return err
	}
	if isDecodeError(err) {
		return errors.Mark(err, ErrProtocol)
	}
	return err
}

func isDecodeError(err error) bool {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	if errors.As(err, &typeErr) || errors.As(err, &syntaxErr) {
		return true
	}
	// content blocks are checked after decoding
	return strings.Contains(err.Error(), "unrecognized content type")
}
