// Package auth obtains and renews the credentials needed to launch the
// game. The login chain runs Microsoft device-code auth, Xbox Live, XSTS,
// and the game services login in sequence, persisting the resulting
// session so later runs reuse or silently refresh it instead of asking
// the user again.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/lodestone-mc/lodestone/internal/backoff"
)

const (
	requestTimeout = 30 * time.Second

	// defaultSafetyMargin is how long before game token expiry a session
	// stops counting as valid.
	defaultSafetyMargin = time.Hour
)

// Options tune a Broker. Zero values fall back to defaults.
type Options struct {
	// ClientID overrides the built-in Azure AD application id.
	ClientID string

	// SafetyMargin is subtracted from the game token lifetime when
	// deciding whether a cached session is still usable.
	SafetyMargin time.Duration

	// Display is called with the device code during interactive login.
	// Defaults to printing on stderr.
	Display func(DeviceAuth)

	// Policy is the retry policy for chain requests.
	Policy backoff.Policy

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Broker drives the login chain and decides, per run, whether the cached
// session is reused, silently refreshed, or replaced by an interactive
// login.
type Broker struct {
	store        *Store
	logger       *slog.Logger
	clientID     string
	safetyMargin time.Duration
	display      func(DeviceAuth)
	policy       backoff.Policy
	httpClient   *http.Client

	// Service endpoints, replaceable for testing.
	endpoint        oauth2.Endpoint
	xblURL          string
	xstsURL         string
	mcLoginURL      string
	entitlementsURL string
	profileURL      string

	nowFunc func() time.Time // injectable for deterministic tests
}

// NewBroker creates a broker persisting sessions through store.
func NewBroker(store *Store, opts Options, logger *slog.Logger) *Broker {
	clientID := opts.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	margin := opts.SafetyMargin
	if margin <= 0 {
		margin = defaultSafetyMargin
	}

	display := opts.Display
	if display == nil {
		display = func(da DeviceAuth) {
			fmt.Fprintf(os.Stderr, "To sign in, visit %s and enter the code %s\n",
				da.VerificationURI, da.UserCode)
		}
	}

	policy := opts.Policy
	if policy.MaxAttempts == 0 {
		policy = backoff.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	return &Broker{
		store:           store,
		logger:          logger,
		clientID:        clientID,
		safetyMargin:    margin,
		display:         display,
		policy:          policy,
		httpClient:      httpClient,
		endpoint:        microsoft.AzureADEndpoint("consumers"),
		xblURL:          xblAuthURL,
		xstsURL:         xstsAuthURL,
		mcLoginURL:      mcLoginURL,
		entitlementsURL: mcEntitlementsURL,
		profileURL:      mcProfileURL,
		nowFunc:         time.Now,
	}
}

// ObtainValidToken returns a session whose game token is valid for at
// least the safety margin. Cheapest path wins: the cached session is
// reused untouched when still valid, silently refreshed through the
// chain when a refresh token exists, and only then does an interactive
// device-code login start. Terminal account conditions (child account,
// region, missing profile) surface immediately instead of looping into
// another login.
func (b *Broker) ObtainValidToken(ctx context.Context) (*Session, error) {
	sess, err := b.store.Load()
	if err != nil {
		return nil, err
	}

	if sess != nil && b.sessionValid(sess) {
		b.logger.Debug("cached session still valid",
			slog.String("profile", sess.Profile.Name),
			slog.Time("expiry", sess.Minecraft.Expiry))

		return sess, nil
	}

	// Renewal holds the store lock for the whole read-modify-write, so
	// two processes cannot both refresh from the same stale read and
	// overwrite each other's rotated refresh token. The session is
	// re-read under the lock: the process that lost the race reuses the
	// winner's fresh session instead of refreshing again.
	return b.store.Update(ctx, func(cur *Session) (*Session, error) {
		if cur != nil && b.sessionValid(cur) {
			b.logger.Debug("session already renewed by another process",
				slog.Time("expiry", cur.Minecraft.Expiry))

			return nil, nil
		}

		if cur != nil && cur.Microsoft != nil && cur.Microsoft.RefreshToken != "" {
			b.logger.Info("cached session expired, refreshing")

			fresh, refreshErr := b.refreshSession(ctx, cur)
			if refreshErr == nil {
				return fresh, nil
			}

			if terminalAuthErr(refreshErr) || ctx.Err() != nil {
				return nil, refreshErr
			}

			// Only a rejected refresh token falls through to a new
			// login; transient failures have already exhausted their
			// retries and surface as-is.
			if !refreshRejected(refreshErr) {
				return nil, refreshErr
			}

			b.logger.Warn("refresh token rejected, starting interactive login",
				slog.String("error", refreshErr.Error()))
		}

		return b.interactiveLogin(ctx)
	})
}

// sessionValid reports whether the cached game token outlives the safety
// margin.
func (b *Broker) sessionValid(sess *Session) bool {
	return sess.Minecraft.AccessToken != "" &&
		sess.Profile.ID != "" &&
		b.nowFunc().Add(b.safetyMargin).Before(sess.Minecraft.Expiry)
}

// refreshSession renews the Microsoft token silently and replays the
// downstream chain to mint a fresh game token.
func (b *Broker) refreshSession(ctx context.Context, sess *Session) (*Session, error) {
	tok, err := b.refreshMicrosoft(ctx, sess.Microsoft)
	if err != nil {
		return nil, err
	}

	return b.completeChain(ctx, tok)
}

// interactiveLogin runs the full chain starting from a device-code login.
func (b *Broker) interactiveLogin(ctx context.Context) (*Session, error) {
	tok, err := b.loginDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	return b.completeChain(ctx, tok)
}

// completeChain runs the stages downstream of the Microsoft token and
// persists the resulting session.
func (b *Broker) completeChain(ctx context.Context, msToken *oauth2.Token) (*Session, error) {
	xblToken, err := b.authenticateXboxLive(ctx, msToken.AccessToken)
	if err != nil {
		return nil, err
	}

	xstsToken, userHash, err := b.authorizeXSTS(ctx, xblToken)
	if err != nil {
		return nil, err
	}

	gameToken, err := b.loginMinecraft(ctx, userHash, xstsToken)
	if err != nil {
		return nil, err
	}

	b.warnIfNoEntitlement(ctx, gameToken.AccessToken)

	profile, err := b.fetchProfile(ctx, gameToken.AccessToken)
	if err != nil {
		return nil, err
	}

	b.logger.Info("login chain complete",
		slog.String("profile", profile.Name),
		slog.Time("expiry", gameToken.Expiry))

	// Persistence happens in the Store.Update the caller runs under.
	return &Session{Microsoft: msToken, Minecraft: gameToken, Profile: profile}, nil
}

// Refresh forces a silent renewal of the cached session without falling
// back to interactive login. Returns ErrNotLoggedIn when no session
// exists and ErrNotLoggedIn-wrapped guidance when no refresh token is
// available.
func (b *Broker) Refresh(ctx context.Context) (*Session, error) {
	return b.store.Update(ctx, func(cur *Session) (*Session, error) {
		if cur == nil {
			return nil, ErrNotLoggedIn
		}

		if cur.Microsoft == nil || cur.Microsoft.RefreshToken == "" {
			return nil, fmt.Errorf("auth: session has no refresh token: %w", ErrNotLoggedIn)
		}

		return b.refreshSession(ctx, cur)
	})
}

// ClearSession removes the persisted session.
func (b *Broker) ClearSession(ctx context.Context) error {
	return b.store.Clear(ctx)
}

// Status describes the persisted session for display.
type Status struct {
	LoggedIn   bool
	Valid      bool
	HasRefresh bool
	Profile    Profile
	Expiry     time.Time
}

// Status inspects the persisted session without touching the network.
func (b *Broker) Status() (Status, error) {
	sess, err := b.store.Load()
	if err != nil {
		return Status{}, err
	}

	if sess == nil {
		return Status{}, nil
	}

	return Status{
		LoggedIn:   true,
		Valid:      b.sessionValid(sess),
		HasRefresh: sess.Microsoft != nil && sess.Microsoft.RefreshToken != "",
		Profile:    sess.Profile,
		Expiry:     sess.Minecraft.Expiry,
	}, nil
}
