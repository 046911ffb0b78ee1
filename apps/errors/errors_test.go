package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAuthErrorIs(t *testing.T) {
	err := &AuthError{Code: CodeNoTokenFound, Desc: "nothing cached for scope x"}

	if !Is(err, ErrNoTokenFound) {
		t.Error("errors with the same code must match regardless of description")
	}
	if Is(err, ErrRefreshRequired) {
		t.Error("errors with different codes must not match")
	}

	// Matching survives wrapping.
	wrapped := fmt.Errorf("acquire: %w", err)
	if !Is(wrapped, ErrNoTokenFound) {
		t.Error("matching must survive fmt.Errorf wrapping")
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	cause := stderrors.New("cache read failed")
	err := &AuthError{Code: CodeNoTokenFound, Err: cause}
	if !Is(err, cause) {
		t.Error("the underlying cause must stay reachable through Unwrap")
	}
}

func TestCodes(t *testing.T) {
	for _, test := range []struct {
		desc        string
		err         error
		wantCode    string
		wantSub     string
		wantOK      bool
	}{
		{
			desc:     "classified",
			err:      &AuthError{Code: CodeCryptoKeyNotFound, SubError: "key_expired"},
			wantCode: CodeCryptoKeyNotFound,
			wantSub:  "key_expired",
			wantOK:   true,
		},
		{
			desc:     "classified and wrapped",
			err:      fmt.Errorf("outer: %w", &AuthError{Code: CodeRefreshRequired}),
			wantCode: CodeRefreshRequired,
			wantOK:   true,
		},
		{desc: "unclassified", err: stderrors.New("plain")},
		{desc: "nil", err: nil},
	} {
		t.Run(test.desc, func(t *testing.T) {
			code, sub, ok := Codes(test.err)
			if code != test.wantCode || sub != test.wantSub || ok != test.wantOK {
				t.Errorf("Codes() = (%q, %q, %v), want (%q, %q, %v)", code, sub, ok, test.wantCode, test.wantSub, test.wantOK)
			}
		})
	}
}

func TestAuthErrorMessage(t *testing.T) {
	if got := (&AuthError{Code: CodeNoTokenFound}).Error(); got != CodeNoTokenFound {
		t.Errorf("got %q, want the bare code when there is no description", got)
	}
	got := (&AuthError{Code: CodeNoTokenFound, Desc: "details"}).Error()
	if got != CodeNoTokenFound+": details" {
		t.Errorf("got %q, want code and description", got)
	}
}

func TestCallErrVerbose(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://login.microsoftonline.com/common/discovery/instance", nil)
	if err != nil {
		t.Fatal(err)
	}
	callErr := CallErr{
		Req:  req,
		Resp: &http.Response{StatusCode: http.StatusBadRequest},
		Err:  stderrors.New("instance discovery returned status 400"),
	}

	if callErr.Error() != "instance discovery returned status 400" {
		t.Errorf("Error() = %q", callErr.Error())
	}
	verbose := Verbose(callErr)
	for _, want := range []string{"login.microsoftonline.com", "400"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Verbose() missing %q:\n%s", want, verbose)
		}
	}

	plain := stderrors.New("no verbose form")
	if Verbose(plain) != plain.Error() {
		t.Error("Verbose must fall back to Error() for plain errors")
	}
}
