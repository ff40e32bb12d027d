package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Xbox service endpoints and relying parties.
const (
	xblAuthURL  = "https://user.auth.xboxlive.com/user/authenticate"
	xstsAuthURL = "https://xsts.auth.xboxlive.com/xsts/authorize"

	xboxRelyingParty     = "http://auth.xboxlive.com"
	servicesRelyingParty = "rp://api.minecraftservices.com/"
)

type xblRequest struct {
	Properties   xblProperties `json:"Properties"`
	RelyingParty string        `json:"RelyingParty"`
	TokenType    string        `json:"TokenType"`
}

type xblProperties struct {
	AuthMethod string `json:"AuthMethod"`
	SiteName   string `json:"SiteName"`
	RpsTicket  string `json:"RpsTicket"`
}

type xstsRequest struct {
	Properties   xstsProperties `json:"Properties"`
	RelyingParty string         `json:"RelyingParty"`
	TokenType    string         `json:"TokenType"`
}

type xstsProperties struct {
	SandboxID  string   `json:"SandboxId"`
	UserTokens []string `json:"UserTokens"`
}

// xboxTokenResponse is shared by the XBL and XSTS endpoints.
type xboxTokenResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

// xstsDenial is the error payload XSTS returns with a 401.
type xstsDenial struct {
	XErr    int64  `json:"XErr"`
	Message string `json:"Message"`
}

// authenticateXboxLive exchanges a Microsoft access token for an Xbox
// Live user token.
func (b *Broker) authenticateXboxLive(ctx context.Context, msAccessToken string) (string, error) {
	payload := xblRequest{
		Properties: xblProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  "d=" + msAccessToken,
		},
		RelyingParty: xboxRelyingParty,
		TokenType:    "JWT",
	}

	var resp xboxTokenResponse
	if err := b.postJSON(ctx, b.xblURL, payload, &resp); err != nil {
		return "", &Error{Stage: StageXboxLive, Err: err}
	}

	if resp.Token == "" {
		return "", &Error{Stage: StageXboxLive, Err: errors.New("response carries no token")}
	}

	b.logger.Debug("xbox live token obtained")

	return resp.Token, nil
}

// authorizeXSTS exchanges an Xbox Live token for an XSTS token scoped to
// the game services relying party, returning the token and the user hash
// used to build the service identity header.
func (b *Broker) authorizeXSTS(ctx context.Context, xblToken string) (token, userHash string, err error) {
	payload := xstsRequest{
		Properties: xstsProperties{
			SandboxID:  "RETAIL",
			UserTokens: []string{xblToken},
		},
		RelyingParty: servicesRelyingParty,
		TokenType:    "JWT",
	}

	var resp xboxTokenResponse
	if err := b.postJSON(ctx, b.xstsURL, payload, &resp); err != nil {
		return "", "", classifyXSTSError(err)
	}

	if resp.Token == "" || len(resp.DisplayClaims.XUI) == 0 || resp.DisplayClaims.XUI[0].UHS == "" {
		return "", "", &Error{Stage: StageXSTS, Err: errors.New("response carries no token or user hash")}
	}

	b.logger.Debug("xsts authorization granted")

	return resp.Token, resp.DisplayClaims.XUI[0].UHS, nil
}

// classifyXSTSError maps a 401 denial onto the terminal account
// sentinels via its XErr code.
func classifyXSTSError(err error) error {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusUnauthorized {
		return &Error{Stage: StageXSTS, Err: err}
	}

	var denial xstsDenial
	if jsonErr := json.Unmarshal(statusErr.Body, &denial); jsonErr != nil {
		return &Error{Stage: StageXSTS, Err: err}
	}

	switch denial.XErr {
	case xerrChildAccount:
		return &Error{Stage: StageXSTS, XErr: denial.XErr, Err: ErrChildAccount}
	case xerrRegionUnavailable:
		return &Error{Stage: StageXSTS, XErr: denial.XErr, Err: ErrRegionUnavailable}
	default:
		return &Error{
			Stage: StageXSTS,
			XErr:  denial.XErr,
			Err:   fmt.Errorf("authorization denied: %s", denial.Message),
		}
	}
}
