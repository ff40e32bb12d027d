package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/lodestone-mc/lodestone/internal/backoff"
)

// defaultClientID is the Azure AD application this launcher is registered
// as (public client, personal accounts).
const defaultClientID = "7c1f24e1-56b3-4c1c-8f0e-7a56cd3a9a2d"

var microsoftScopes = []string{"XboxLive.signin", "offline_access"}

// DeviceAuth holds the device code fields the CLI displays to the user.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// oauthConfig builds the oauth2 config for the device code grant.
func (b *Broker) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: b.clientID,
		Scopes:   microsoftScopes,
		Endpoint: b.endpoint,
	}
}

// loginDeviceCode performs the device code flow:
//  1. Requests a device code from Microsoft
//  2. Calls display so the CLI can show the user code and verification URL
//  3. Polls until the user authorizes (blocking, respects ctx cancellation)
func (b *Broker) loginDeviceCode(ctx context.Context) (*oauth2.Token, error) {
	cfg := b.oauthConfig()

	b.logger.Info("starting device code auth flow")

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, &Error{Stage: StageDeviceCode, Err: fmt.Errorf("requesting device code: %w", err)}
	}

	b.logger.Info("device code received, waiting for user authorization")

	b.display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, &Error{Stage: StageDeviceCode, Err: fmt.Errorf("device code authorization: %w", err)}
	}

	b.logger.Info("user authorized", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// refreshMicrosoft silently renews the Microsoft token pair, retrying
// transient failures under the broker's policy. The oauth2 token source
// only hits the network when the access token has expired.
func (b *Broker) refreshMicrosoft(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	src := b.oauthConfig().TokenSource(ctx, tok)

	var fresh *oauth2.Token

	err := backoff.Retry(ctx, b.policy, retryableRefreshErr, func(_ context.Context) error {
		var tokenErr error
		fresh, tokenErr = src.Token()

		return tokenErr
	})
	if err != nil {
		return nil, &Error{Stage: StageMicrosoft, Err: fmt.Errorf("refreshing token: %w", err)}
	}

	if fresh.AccessToken != tok.AccessToken {
		b.logger.Info("microsoft token refreshed", slog.Time("expiry", fresh.Expiry))
	}

	return fresh, nil
}

// retryableRefreshErr treats transport failures and server-side token
// endpoint errors as transient; a 4xx token response is a verdict on
// the grant, not a glitch.
func retryableRefreshErr(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.Response != nil &&
			(retrieveErr.Response.StatusCode == http.StatusTooManyRequests ||
				retrieveErr.Response.StatusCode >= http.StatusInternalServerError)
	}

	var urlErr *url.Error

	return errors.As(err, &urlErr)
}
