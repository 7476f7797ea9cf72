package openfinance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"ofbconnect/internal/domain/consent"
	of "ofbconnect/internal/domain/openfinance"
	"ofbconnect/internal/domain/token"
	"ofbconnect/internal/infrastructure/monitoring"
	"ofbconnect/internal/shared/apperr"
	"ofbconnect/internal/shared/config"
)

// Authorizer runs the FAPI authorization code flow with PKCE against the
// authorization server, over the mTLS client.
type Authorizer struct {
	oauth      oauth2.Config
	authBase   string
	httpClient *http.Client
	keys       KeySource
	monitor    *monitoring.Monitor
	now        func() time.Time
}

var (
	_ of.Authorizer   = (*Authorizer)(nil)
	_ token.Refresher = (*Authorizer)(nil)
)

func NewAuthorizer(cfg config.OpenFinanceConfig, httpClient *http.Client, keys KeySource, monitor *monitoring.Monitor) *Authorizer {
	base := strings.TrimRight(cfg.AuthBaseURL, "/")
	return &Authorizer{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		authBase:   base,
		httpClient: httpClient,
		keys:       keys,
		monitor:    monitor,
		now:        time.Now,
	}
}

// scopesFor returns the OAuth scopes requested for c.
func scopesFor(c *consent.Consent) []string {
	scopes := []string{"openid"}
	for _, s := range c.Scopes {
		var oauthScope string
		switch s {
		case consent.ScopeAccounts, consent.ScopeBalances, consent.ScopeTransactions:
			oauthScope = "accounts"
		case consent.ScopeCreditCards:
			oauthScope = "credit-cards-accounts"
		case consent.ScopePayments:
			oauthScope = "payments"
		}
		if oauthScope != "" && !slices.Contains(scopes, oauthScope) {
			scopes = append(scopes, oauthScope)
		}
	}
	return append(scopes, "consent:"+c.ID)
}

// BuildAuthorizationURL returns the authorize redirect for c. The state is the
// consent id. The returned verifier must be kept until the callback.
func (a *Authorizer) BuildAuthorizationURL(ctx context.Context, c *consent.Consent) (*of.AuthorizationRequest, error) {
	if err := a.monitor.CheckHalted(c.BankCode); err != nil {
		return nil, err
	}

	verifier := oauth2.GenerateVerifier()
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	conf := a.oauth
	conf.Scopes = scopesFor(c)

	requestObject, err := signRequestObject(a.keys, a.authBase, requestClaims{
		ClientID:            conf.ClientID,
		RedirectURI:         conf.RedirectURL,
		Scope:               strings.Join(conf.Scopes, " "),
		State:               c.ID,
		Nonce:               nonce,
		ResponseType:        "code",
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
	}, a.now())
	if err != nil {
		return nil, err
	}

	url := conf.AuthCodeURL(c.ID,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("request", requestObject),
	)
	return &of.AuthorizationRequest{URL: url, State: c.ID, Verifier: verifier, Nonce: nonce}, nil
}

// ExchangeCode trades an authorization code for tokens. A 4xx answer other than
// 429 from the token endpoint is reported as ErrAuthorizationCodeInvalid; 429
// and 5xx stay BankAPIErrors.
func (a *Authorizer) ExchangeCode(ctx context.Context, code, verifier string, c *consent.Consent) (*token.Payload, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", apperr.ErrAuthorizationCodeInvalid)
	}
	if err := a.monitor.CheckHalted(c.BankCode); err != nil {
		return nil, err
	}

	start := time.Now()
	tok, err := a.oauth.Exchange(a.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	err = a.mapTokenError(c.BankCode, err)
	a.monitor.RecordCall(c.BankCode, "token_exchange", time.Since(start), err)
	if err != nil {
		return nil, err
	}

	log.Info().Str("consent_id", c.ID).Str("bank_code", c.BankCode).Msg("Authorization code exchanged")
	return toPayload(tok), nil
}

// Refresh obtains a new token set with refreshToken.
func (a *Authorizer) Refresh(ctx context.Context, c *consent.Consent, refreshToken string) (*token.Payload, error) {
	if err := a.monitor.CheckHalted(c.BankCode); err != nil {
		return nil, err
	}

	start := time.Now()
	tok, err := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	err = a.mapTokenError(c.BankCode, err)
	a.monitor.RecordCall(c.BankCode, "token_refresh", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return toPayload(tok), nil
}

func (a *Authorizer) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func (a *Authorizer) mapTokenError(bankCode string, err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			code := re.ErrorCode
			if code == "" {
				code = fmt.Sprintf("status %d", status)
			}
			return fmt.Errorf("%w: %s", apperr.ErrAuthorizationCodeInvalid, code)
		}
		return monitoring.MapHTTPError(bankCode, status, re.Response.Header, re.Body)
	}
	return monitoring.MapTransportError(bankCode, err)
}

func toPayload(tok *oauth2.Token) *token.Payload {
	p := &token.Payload{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		p.Scope = scope
	}
	return p
}
