// Package errors defines the classified failure space of the silent client.
//
// Every failure a caller can branch on carries an explicit code rather than
// relying on structural checks: callers match with errors.Is against the
// exported sentinel values, or extract the full classification with
// errors.As.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

// Error codes for classified failures. These are stable identifiers that
// also annotate telemetry, so they must not change between releases.
const (
	// CodeCryptoKeyNotFound reports that the signing keypair backing a bound
	// token is absent from the key store. The cached token record may still
	// exist; it is unusable without the key material.
	CodeCryptoKeyNotFound = "crypto_key_not_found"

	// CodeSilentLogoutUnsupported reports that a cache-only client has no
	// session it could meaningfully terminate.
	CodeSilentLogoutUnsupported = "silent_logout_unsupported"

	// CodeNoTokenFound reports that no cached token satisfied the request.
	CodeNoTokenFound = "no_tokens_found"

	// CodeRefreshRequired reports that a cached token exists but cannot be
	// used (expired, or the caller demanded a refresh).
	CodeRefreshRequired = "refresh_required"

	// CodeAuthorityResolution reports that the authority's client
	// configuration could not be resolved.
	CodeAuthorityResolution = "authority_resolution_error"
)

// AuthError is a classified client error. Code is the discriminant callers
// are expected to match on; SubError refines it when the server or cache
// layer supplies one.
type AuthError struct {
	Code     string
	SubError string
	Desc     string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *AuthError) Error() string {
	if e.Desc == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Desc)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *AuthError with the same code. This makes
// errors.Is(err, &AuthError{Code: ...}) and the sentinel values below work
// without comparing descriptions.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is matching.
var (
	ErrCryptoKeyNotFound       = &AuthError{Code: CodeCryptoKeyNotFound, Desc: "signing keypair for bound token was not found in storage"}
	ErrSilentLogoutUnsupported = &AuthError{Code: CodeSilentLogoutUnsupported, Desc: "silent logout is not supported, the client holds no server-side session"}
	ErrNoTokenFound            = &AuthError{Code: CodeNoTokenFound, Desc: "no cached token satisfied the request"}
	ErrRefreshRequired         = &AuthError{Code: CodeRefreshRequired, Desc: "cached token cannot be used, a refresh is required"}
)

// Codes extracts the code/sub-code pair when err carries the classified
// shape. ok is false for unclassified errors, in which case both strings are
// empty and telemetry omits them.
func Codes(err error) (code, subError string, ok bool) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return "", "", false
	}
	return ae.Code, ae.SubError, true
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// Is is equivalent to errors.Is().
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is equivalent to errors.As().
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error that the error message has.
func Verbose(err error) string {
	if v, ok := err.(verboser); ok {
		return v.Verbose()
	}
	return err.Error()
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows
// getting the http.Request and Response objects. Implements error.
type CallErr struct {
	Req  *http.Request
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Verbose prints a verbose error message with the request or response.
func (e CallErr) Verbose() string {
	return fmt.Sprintf("%s:\n\tRequest:\n%s\n\tResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(e.Resp))
}
