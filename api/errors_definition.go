//nolint:lll
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vocdoni/cypherpoll/state"
)

// The custom Error type satisfies the error interface.
// Error() returns a human-readable description of the error.
//
// Error codes in the 40001-49999 range are the user's fault,
// and they return HTTP Status 4xx, whatever is most appropriate.
//
// Error codes 50001-59999 are the server's fault
// and they return HTTP Status 5xx.
//
// NEVER change any of the current error codes, only append new errors after the current last 4XXXX or 5XXXX.
// There's no correlation between Code and HTTP Status beyond the range.
var (
	ErrResourceNotFound    = Error{Code: 40001, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("resource not found")}
	ErrMalformedBody       = Error{Code: 40004, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("malformed JSON body")}
	ErrInvalidSignature    = Error{Code: 40005, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid signature")}
	ErrUnauthorizedKey     = Error{Code: 40014, HTTPstatus: http.StatusForbidden, Err: fmt.Errorf("public key not authorized for identity")}
	ErrInvalidChallenge    = Error{Code: 40023, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid or expired challenge")}
	ErrInvalidProof        = Error{Code: 40024, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid proof")}
	ErrInvalidVote         = Error{Code: 40025, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("invalid vote")}
	ErrUnrecognizedRoot    = Error{Code: 40026, HTTPstatus: http.StatusBadRequest, Err: fmt.Errorf("unrecognized root")}
	ErrChallengesDisabled  = Error{Code: 40027, HTTPstatus: http.StatusNotFound, Err: fmt.Errorf("challenges are disabled")}
	ErrIdentityRegistered  = Error{Code: 40901, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("identity already registered")}
	ErrCapacityExhausted   = Error{Code: 40902, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("registration tree is full")}
	ErrNullifierUsed       = Error{Code: 40903, HTTPstatus: http.StatusConflict, Err: fmt.Errorf("nullifier already used")}
	ErrKeyAuthorityFailure = Error{Code: 50201, HTTPstatus: http.StatusBadGateway, Err: fmt.Errorf("key authority unavailable")}

	ErrMarshalingServerJSONFailed = Error{Code: 50001, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("marshaling (server-side) JSON failed")}
	ErrGenericInternalServerError = Error{Code: 50002, HTTPstatus: http.StatusInternalServerError, Err: fmt.Errorf("internal server error")}
)

var stateErrors = []struct {
	err error
	api Error
}{
	{state.ErrMalformedRequest, ErrMalformedBody},
	{state.ErrKeyAuthority, ErrKeyAuthorityFailure},
	{state.ErrUnauthorizedKey, ErrUnauthorizedKey},
	{state.ErrInvalidSignature, ErrInvalidSignature},
	{state.ErrInvalidChallenge, ErrInvalidChallenge},
	{state.ErrDuplicateIdentitySource, ErrIdentityRegistered},
	{state.ErrCapacityExhausted, ErrCapacityExhausted},
	{state.ErrInvalidProof, ErrInvalidProof},
	{state.ErrInvalidVote, ErrInvalidVote},
	{state.ErrDuplicateNullifier, ErrNullifierUsed},
	{state.ErrUnrecognizedRoot, ErrUnrecognizedRoot},
}

// apiError maps a state machine error to its coded API error, keeping err
// as the message.
func apiError(err error) Error {
	for _, e := range stateErrors {
		if errors.Is(err, e.err) {
			return Error{Err: err, Code: e.api.Code, HTTPstatus: e.api.HTTPstatus}
		}
	}
	return ErrGenericInternalServerError.WithErr(err)
}
