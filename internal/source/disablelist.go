package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/isometry/ldap-sync/internal/logging"
	"github.com/isometry/ldap-sync/internal/user"
)

const (
	participantTokenHeader = "x-participant-token"
	clientCredentialsGrant = "client_credentials"
	maxListBytes           = 32 << 20
)

// DisableListConfig configures the HTTP disable-list source.
type DisableListConfig struct {
	EndpointURL  string
	OAuth2URL    string
	ClientID     string
	ClientSecret string
	Scope        string // space separated
	GrantType    string
	Timeout      time.Duration
	RetryMax     int
}

// DisableList reports the e-mail addresses published by an HTTP endpoint as
// users to remove.
type DisableList struct {
	config DisableListConfig
	client *http.Client
	now    func() time.Time
}

// NewDisableList creates a disable-list source. ctx carries the logger used
// for request retries.
func NewDisableList(ctx context.Context, config DisableListConfig) *DisableList {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = config.Timeout
	rc.RetryMax = config.RetryMax
	rc.Logger = logging.NewLeveledLogger(ctx, logging.SubsystemSource)

	return &DisableList{
		config: config,
		client: rc.StandardClient(),
		now:    time.Now,
	}
}

// Name returns the source name used in logs.
func (s *DisableList) Name() string {
	return "DisableList"
}

// GetDiff fetches today's list. The fetch is read-only and also happens
// during dry runs.
func (s *DisableList) GetDiff(ctx context.Context) (user.SourceDiff, error) {
	token, err := s.token(ctx)
	if err != nil {
		return user.SourceDiff{}, err
	}

	emails, err := s.fetchList(ctx, token)
	if err != nil {
		return user.SourceDiff{}, err
	}

	diff := user.SourceDiff{DeletedUserIDs: make([]user.UserID, 0, len(emails))}
	for _, email := range emails {
		diff.DeletedUserIDs = append(diff.DeletedUserIDs, user.LoginID(email))
	}

	logging.New(ctx, logging.SubsystemSource).Info("Fetched disable list", map[string]any{"users": len(emails)})
	return diff, nil
}

type participantToken struct {
	accessToken string
	idToken     string
}

func (s *DisableList) token(ctx context.Context) (participantToken, error) {
	cc := clientcredentials.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		TokenURL:     s.config.OAuth2URL,
		Scopes:       strings.Fields(s.config.Scope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if gt := s.config.GrantType; gt != "" && gt != clientCredentialsGrant {
		cc.EndpointParams = url.Values{"grant_type": {gt}}
	}

	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, s.client))
	if err != nil {
		return participantToken{}, fmt.Errorf("failed to get OAuth2 token: %w", err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return participantToken{}, errors.New("failed to deserialize OAuth2 token response: missing id_token")
	}
	return participantToken{accessToken: tok.AccessToken, idToken: idToken}, nil
}

func (s *DisableList) fetchList(ctx context.Context, token participantToken) ([]string, error) {
	endpoint, err := url.Parse(s.config.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	query := endpoint.Query()
	query.Set("date", s.now().UTC().Format("20060102"))
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.accessToken)
	req.Header.Set(participantTokenHeader, token.idToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch disable list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error in response: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read disable list: %w", err)
	}

	return parseEmailList(body)
}

// parseEmailList decodes a JSON array of e-mail addresses. An object with an
// error member is reported as an error.
func parseEmailList(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("failed to deserialize email list response: invalid JSON")
	}

	result := gjson.ParseBytes(body)
	if e := result.Get("error"); e.Exists() {
		return nil, fmt.Errorf("error in response: %s", e.Raw)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("failed to deserialize email list response: expected an array, got %s", result.Type)
	}

	var emails []string
	var bad error
	result.ForEach(func(_, value gjson.Result) bool {
		if value.Type != gjson.String {
			bad = fmt.Errorf("failed to deserialize email list response: unexpected %s element", value.Type)
			return false
		}
		emails = append(emails, value.Str)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return emails, nil
}
