package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Game services endpoints.
const (
	mcLoginURL        = "https://api.minecraftservices.com/authentication/login_with_xbox"
	mcEntitlementsURL = "https://api.minecraftservices.com/entitlements/mcstore"
	mcProfileURL      = "https://api.minecraftservices.com/minecraft/profile"
)

type mcLoginRequest struct {
	IdentityToken string `json:"identityToken"`
}

type mcLoginResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type entitlementsResponse struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
}

type profileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// loginMinecraft exchanges the XSTS token for a game service token.
func (b *Broker) loginMinecraft(ctx context.Context, userHash, xstsToken string) (GameToken, error) {
	payload := mcLoginRequest{
		IdentityToken: fmt.Sprintf("XBL3.0 x=%s;%s", userHash, xstsToken),
	}

	var resp mcLoginResponse
	if err := b.postJSON(ctx, b.mcLoginURL, payload, &resp); err != nil {
		return GameToken{}, &Error{Stage: StageMinecraft, Err: err}
	}

	if resp.AccessToken == "" {
		return GameToken{}, &Error{Stage: StageMinecraft, Err: errors.New("response carries no access token")}
	}

	expiry := b.nowFunc().Add(time.Duration(resp.ExpiresIn) * time.Second)

	b.logger.Info("game token obtained", "expiry", expiry)

	return GameToken{AccessToken: resp.AccessToken, Expiry: expiry}, nil
}

// warnIfNoEntitlement checks the account's store entitlements. Game Pass
// accounts legitimately show an empty list here, so a missing entitlement
// only warns; the profile lookup is the authoritative ownership check.
func (b *Broker) warnIfNoEntitlement(ctx context.Context, token string) {
	var resp entitlementsResponse
	if err := b.getJSON(ctx, b.entitlementsURL, token, &resp); err != nil {
		b.logger.Warn("entitlement check failed, proceeding", "error", err)
		return
	}

	for _, item := range resp.Items {
		if item.Name == "product_minecraft" || item.Name == "game_minecraft" ||
			strings.Contains(item.Name, "minecraft") {
			return
		}
	}

	b.logger.Warn("no game entitlement found on account, proceeding")
}

// fetchProfile loads the game profile attached to the account. A 404
// means the account has never created a profile and cannot launch.
func (b *Broker) fetchProfile(ctx context.Context, token string) (Profile, error) {
	var resp profileResponse
	if err := b.getJSON(ctx, b.profileURL, token, &resp); err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return Profile{}, &Error{Stage: StageProfile, Err: ErrNoProfile}
		}

		return Profile{}, &Error{Stage: StageProfile, Err: err}
	}

	if resp.ID == "" || resp.Name == "" {
		return Profile{}, &Error{Stage: StageProfile, Err: errors.New("response carries no profile")}
	}

	b.logger.Debug("profile loaded", "name", resp.Name)

	return Profile{ID: resp.ID, Name: resp.Name}, nil
}
