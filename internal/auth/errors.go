package auth

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Chain stages, in the order the login chain runs them.
const (
	StageDeviceCode  = "device-code"
	StageMicrosoft   = "microsoft"
	StageXboxLive    = "xbox-live"
	StageXSTS        = "xsts"
	StageMinecraft   = "minecraft"
	StageEntitlement = "entitlement"
	StageProfile     = "profile"
)

// Sentinel errors for terminal account conditions. These are never
// retried and never fall back to interactive login.
var (
	// ErrNotLoggedIn means no session exists on disk.
	ErrNotLoggedIn = errors.New("auth: not logged in")

	// ErrNoProfile means the account authenticated but owns no game
	// profile.
	ErrNoProfile = errors.New("auth: account owns no game profile")

	// ErrChildAccount is the Xbox denial for accounts that need adult
	// consent before they can sign in.
	ErrChildAccount = errors.New("auth: account is a child account and needs to be added to a family")

	// ErrRegionUnavailable is the Xbox denial for accounts in regions
	// where the service does not operate.
	ErrRegionUnavailable = errors.New("auth: xbox live is not available in this account's region")
)

// Xbox XSTS denial codes.
const (
	xerrChildAccount      = 2148916233
	xerrRegionUnavailable = 2148916238
)

// Error wraps a login failure with the chain stage that produced it, and
// the Xbox error code when the XSTS stage denied authorization.
type Error struct {
	Stage string
	XErr  int64
	Err   error
}

func (e *Error) Error() string {
	if e.XErr != 0 {
		return fmt.Sprintf("auth: %s: %v (XErr %d)", e.Stage, e.Err, e.XErr)
	}

	return fmt.Sprintf("auth: %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// terminalAuthErr reports whether a chain failure must surface directly
// instead of triggering a fresh interactive login.
func terminalAuthErr(err error) bool {
	return errors.Is(err, ErrChildAccount) ||
		errors.Is(err, ErrRegionUnavailable) ||
		errors.Is(err, ErrNoProfile)
}

// refreshRejected reports whether the identity service rejected the
// refresh token itself, meaning only a new interactive login can help.
// Anything else — transport failures, server errors — is not a verdict
// on the grant.
func refreshRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return false
	}

	switch retrieveErr.ErrorCode {
	case "invalid_grant", "expired_token", "unauthorized_client":
		return true
	case "":
		// Some identity hosts answer a dead grant with a bare 400/401
		// and no RFC 6749 error code.
		return retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusBadRequest ||
				retrieveErr.Response.StatusCode == http.StatusUnauthorized)
	}

	return false
}
