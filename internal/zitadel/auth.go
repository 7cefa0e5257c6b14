package zitadel

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	tokenPath      = "/oauth/v2/token"
	assertionTTL   = time.Hour
)

// DefaultScopes grants access to the management API.
var DefaultScopes = []string{"openid", "urn:zitadel:iam:org:project:id:zitadel:aud"}

// ServiceAccountKey is the JSON key file issued for a service account.
type ServiceAccountKey struct {
	Type   string `json:"type"`
	KeyID  string `json:"keyId"`
	Key    string `json:"key"`
	UserID string `json:"userId"`
}

// LoadKeyFile reads a service account key file.
func LoadKeyFile(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("failed to parse key file %s: %w", path, err)
	}
	if key.KeyID == "" || key.Key == "" || key.UserID == "" {
		return nil, fmt.Errorf("key file %s must contain keyId, key and userId", path)
	}
	return &key, nil
}

// jwtProfileSource exchanges a self-signed assertion for an access token.
type jwtProfileSource struct {
	ctx      context.Context
	client   *http.Client
	issuer   string
	key      *ServiceAccountKey
	signer   *rsa.PrivateKey
	scopes   []string
	tokenURL string
	now      func() time.Time
}

func newJWTProfileSource(ctx context.Context, client *http.Client, issuer string, key *ServiceAccountKey, scopes []string) (*jwtProfileSource, error) {
	signer, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key: %w", err)
	}

	issuer = strings.TrimSuffix(issuer, "/")
	return &jwtProfileSource{
		ctx:      ctx,
		client:   client,
		issuer:   issuer,
		key:      key,
		signer:   signer,
		scopes:   scopes,
		tokenURL: issuer + tokenPath,
		now:      time.Now,
	}, nil
}

func (s *jwtProfileSource) assertion() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.key.UserID,
		Subject:   s.key.UserID,
		Audience:  jwt.ClaimStrings{s.issuer},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.key.KeyID

	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Token implements oauth2.TokenSource.
func (s *jwtProfileSource) Token() (*oauth2.Token, error) {
	assertion, err := s.assertion()
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"scope":      {strings.Join(s.scopes, " ")},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError("token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError("token", err)
	}
	if resp.StatusCode != http.StatusOK {
		e := responseError("token", resp.StatusCode, body)
		e.Kind = KindUnauthenticated
		return nil, e
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response carries no access_token")
	}

	tok := &oauth2.Token{AccessToken: tr.AccessToken, TokenType: tr.TokenType}
	if tr.ExpiresIn > 0 {
		tok.Expiry = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}
