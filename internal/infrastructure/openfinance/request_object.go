package openfinance

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const requestObjectTTL = 10 * time.Minute

// KeySource provides the request-signing key, its key id and x5c chain.
type KeySource interface {
	SigningKey() (crypto.Signer, string, []string, error)
}

// requestClaims are the authorization parameters carried inside the signed request object.
type requestClaims struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	Nonce               string `json:"nonce"`
	ResponseType        string `json:"response_type"`
	CodeChallenge       string `json:"code_challenge"`
	CodeChallengeMethod string `json:"code_challenge_method"`
	jwt.RegisteredClaims
}

// signRequestObject returns the RS256 request object JWT. The header carries the
// certificate serial as kid and the x5c chain.
func signRequestObject(keys KeySource, audience string, claims requestClaims, now time.Time) (string, error) {
	signer, kid, x5c, err := keys.SigningKey()
	if err != nil {
		return "", err
	}
	key, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("request objects need an RSA signing key, got %T", signer)
	}

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    claims.ClientID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(requestObjectTTL)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	token.Header["x5c"] = x5c
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign request object: %w", err)
	}
	return signed, nil
}
