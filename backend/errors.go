package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Error is an error returned by the Avocado backend, either as a JSON-RPC error object or as an
// HTTP error body of the proposals API.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// FallbackMFA returns the alternate factor the backend asked the caller to use, if any.
func (e *Error) FallbackMFA() (string, bool) {
	if e.Data == nil {
		return "", false
	}

	b, err := json.Marshal(e.Data)
	if err != nil {
		return "", false
	}

	var data struct {
		FallbackMFA *FallbackMFA `json:"fallbackMfa"`
	}
	if err := json.Unmarshal(b, &data); err != nil || data.FallbackMFA == nil || data.FallbackMFA.Type == "" {
		return "", false
	}

	return data.FallbackMFA.Type, true
}

// asError converts JSON-RPC errors into *Error. Transport errors are returned unchanged.
func asError(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}

	out := &Error{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		out.Data = dataErr.ErrorData()
	}

	return out
}

var nonceConsumedMarkers = []string{
	"nonce too low",
	"invalid nonce",
	"nonce already used",
	"invalidnonce",
}

// IsNonceConsumed reports whether the backend rejected a broadcast because the safe nonce was
// already used on chain.
func IsNonceConsumed(err error) bool {
	var bErr *Error
	if !errors.As(err, &bErr) {
		return false
	}

	msg := strings.ToLower(bErr.Message)
	for _, m := range nonceConsumedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

// FallbackMFAFromError returns the alternate factor carried by a backend error, if any.
func FallbackMFAFromError(err error) (string, bool) {
	var bErr *Error
	if !errors.As(err, &bErr) {
		return "", false
	}

	return bErr.FallbackMFA()
}
