package auth

import (
	"errors"
	"fmt"

	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/remote"
)

// State is a position in the forward-only authentication chain.
type State int

const (
	StateNoCredentials State = iota
	StateHaveCredentials
	StateHaveInitialToken
	StateHaveAppToken
	StateHaveAccountID
	StateHaveDeviceToken
	StateAuthenticated
)

var stateNames = [...]string{
	StateNoCredentials:    "no_credentials",
	StateHaveCredentials:  "have_credentials",
	StateHaveInitialToken: "have_initial_token",
	StateHaveAppToken:     "have_app_token",
	StateHaveAccountID:    "have_account_id",
	StateHaveDeviceToken:  "have_device_token",
	StateAuthenticated:    "authenticated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Failure reports the state the chain could not reach and why.
// Every Failure matches errs.ErrAuth; the cause is available via Unwrap.
type Failure struct {
	State State
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("authentication stopped before %s: %v", f.State, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) Is(target error) bool { return target == errs.ErrAuth }

// FailedState returns the state carried by a *Failure in err's chain.
func FailedState(err error) (State, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.State, true
	}
	return 0, false
}

// Tokens is the chain of credentials produced by the authentication steps,
// each one required by the next.
type Tokens struct {
	Initial   string
	App       string
	AccountID string
	Device    string
}

// Result is an authenticated session. It lives for one sync run.
type Result struct {
	Session *remote.Session
	Tokens  Tokens
}

// GameUID is the resolved account identifier.
func (r *Result) GameUID() string {
	return r.Tokens.AccountID
}
