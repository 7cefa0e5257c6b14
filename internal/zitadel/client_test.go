package zitadel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testProvider struct {
	*httptest.Server
	key         *rsa.PrivateKey
	tokenCalls  atomic.Int32
	mux         *http.ServeMux
	lastRequest *http.Request
	lastBody    map[string]any
}

func newTestProvider(t *testing.T) *testProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	p := &testProvider{key: key, mux: http.NewServeMux()}
	p.mux.HandleFunc("POST /oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, jwtBearerGrant, r.PostForm.Get("grant_type"))
		assert.Equal(t, "openid urn:zitadel:iam:org:project:id:zitadel:aud", r.PostForm.Get("scope"))

		token, err := jwt.Parse(r.PostForm.Get("assertion"), func(tok *jwt.Token) (any, error) {
			assert.Equal(t, "key-id", tok.Header["kid"])
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(p.URL), jwt.WithIssuer("service-user"))
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		sub, _ := token.Claims.GetSubject()
		assert.Equal(t, "service-user", sub)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"provider-token","token_type":"Bearer","expires_in":3600}`))
	})

	p.Server = httptest.NewServer(p.mux)
	t.Cleanup(p.Close)
	return p
}

// handle registers a handler that records the request and its JSON body.
func (p *testProvider) handle(t *testing.T, pattern string, status int, response string) {
	t.Helper()
	p.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		p.lastRequest = r
		p.lastBody = nil
		if r.ContentLength > 0 {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&p.lastBody))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	})
}

func (p *testProvider) serviceAccountKey() *ServiceAccountKey {
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(p.key),
	})
	return &ServiceAccountKey{Type: "serviceaccount", KeyID: "key-id", Key: string(pemBytes), UserID: "service-user"}
}

func (p *testProvider) client(t *testing.T, retryMax int) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		URL:          p.URL,
		Key:          p.serviceAccountKey(),
		Timeout:      5 * time.Second,
		RetryMax:     retryMax,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestLoadKeyFile(t *testing.T) {
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.json")
	require.NoError(t, os.WriteFile(valid, []byte(`{"type":"serviceaccount","keyId":"1","key":"pem","userId":"2"}`), 0o600))
	key, err := LoadKeyFile(valid)
	require.NoError(t, err)
	assert.Equal(t, "1", key.KeyID)
	assert.Equal(t, "2", key.UserID)

	incomplete := filepath.Join(dir, "incomplete.json")
	require.NoError(t, os.WriteFile(incomplete, []byte(`{"type":"serviceaccount","keyId":"1"}`), 0o600))
	_, err = LoadKeyFile(incomplete)
	assert.ErrorContains(t, err, "must contain keyId, key and userId")

	_, err = LoadKeyFile(filepath.Join(dir, "missing.json"))
	assert.ErrorContains(t, err, "failed to read key file")
}

func TestNewRejectsInvalidKey(t *testing.T) {
	_, err := New(context.Background(), Config{
		URL: "https://provider.example.org",
		Key: &ServiceAccountKey{KeyID: "1", Key: "not a pem", UserID: "2"},
	})
	assert.ErrorContains(t, err, "failed to parse service account key")

	_, err = New(context.Background(), Config{})
	assert.ErrorContains(t, err, "URL is required")
}

func TestCreateHumanUser(t *testing.T) {
	p := newTestProvider(t)
	p.handle(t, "POST /management/v1/users/human/_import", http.StatusOK, `{"userId":"100"}`)
	c := p.client(t, 0)

	id, err := c.CreateHumanUser(context.Background(), "org-1", ImportHumanUserRequest{
		UserName: "john.doe@example.com",
		Profile: Profile{
			FirstName:   "John",
			LastName:    "Doe",
			NickName:    "jdoe",
			DisplayName: "Doe, John",
			Gender:      GenderUnspecified,
		},
		Email:                           Email{Email: "john.doe@example.com", IsEmailVerified: true},
		RequestPasswordlessRegistration: true,
		IDPs:                            []IDPLink{{ConfigID: "idp", ExternalUserID: "jdoe", DisplayName: "Doe, John"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "100", id)

	assert.Equal(t, "Bearer provider-token", p.lastRequest.Header.Get("Authorization"))
	assert.Equal(t, "org-1", p.lastRequest.Header.Get(orgHeader))
	assert.Equal(t, "john.doe@example.com", p.lastBody["userName"])
	assert.Equal(t, true, p.lastBody["requestPasswordlessRegistration"])
	assert.NotContains(t, p.lastBody, "phone")
	assert.Equal(t, "jdoe", p.lastBody["profile"].(map[string]any)["nickName"])
	assert.Len(t, p.lastBody["idps"], 1)
}

func TestTokenIsReused(t *testing.T) {
	p := newTestProvider(t)
	p.handle(t, "PUT /management/v1/users/{id}/email", http.StatusOK, `{}`)
	p.handle(t, "DELETE /management/v1/users/{id}/phone", http.StatusOK, `{}`)
	c := p.client(t, 0)

	require.NoError(t, c.UpdateHumanEmail(context.Background(), "org-1", "100", Email{Email: "new@example.com"}))
	assert.Equal(t, "new@example.com", p.lastBody["email"])
	assert.Equal(t, false, p.lastBody["isEmailVerified"])

	require.NoError(t, c.RemoveHumanPhone(context.Background(), "org-1", "100"))
	assert.Equal(t, "/management/v1/users/100/phone", p.lastRequest.URL.Path)

	assert.EqualValues(t, 1, p.tokenCalls.Load())
}

func TestUpdateCalls(t *testing.T) {
	p := newTestProvider(t)
	p.handle(t, "PUT /management/v1/users/{id}/username", http.StatusOK, `{}`)
	p.handle(t, "PUT /management/v1/users/{id}/profile", http.StatusOK, `{}`)
	p.handle(t, "PUT /management/v1/users/{id}/phone", http.StatusOK, `{}`)
	p.handle(t, "POST /management/v1/users/{id}/metadata/{key}", http.StatusOK, `{}`)
	p.handle(t, "POST /management/v1/users/{id}/grants", http.StatusOK, `{}`)
	p.handle(t, "DELETE /management/v1/users/{id}", http.StatusOK, `{}`)
	c := p.client(t, 0)
	ctx := context.Background()

	require.NoError(t, c.UpdateHumanUserName(ctx, "org-1", "100", "jane@example.com"))
	assert.Equal(t, "jane@example.com", p.lastBody["userName"])

	require.NoError(t, c.UpdateHumanProfile(ctx, "org-1", "100", Profile{FirstName: "Jane", LastName: "Doe", DisplayName: "Doe, Jane"}))
	assert.Equal(t, "Doe, Jane", p.lastBody["displayName"])

	require.NoError(t, c.UpdateHumanPhone(ctx, "org-1", "100", Phone{Phone: "+12015550124", IsPhoneVerified: true}))
	assert.Equal(t, "+12015550124", p.lastBody["phone"])
	assert.Equal(t, true, p.lastBody["isPhoneVerified"])

	require.NoError(t, c.SetUserMetadata(ctx, "org-1", "100", "localpart", []byte{0xA0, 0xA1}))
	assert.Equal(t, "/management/v1/users/100/metadata/localpart", p.lastRequest.URL.Path)
	assert.Equal(t, "oKE=", p.lastBody["value"])

	require.NoError(t, c.AddUserGrant(ctx, "org-1", "100", "project-1", []string{"User"}))
	assert.Equal(t, "project-1", p.lastBody["projectId"])
	assert.Equal(t, []any{"User"}, p.lastBody["roleKeys"])

	require.NoError(t, c.RemoveUser(ctx, "100"))
	assert.Equal(t, http.MethodDelete, p.lastRequest.Method)
	assert.Empty(t, p.lastRequest.Header.Get(orgHeader))
}

func TestGetUserByLoginName(t *testing.T) {
	p := newTestProvider(t)
	p.mux.HandleFunc("GET /management/v1/global/users/_by_login_name", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("loginName") != "john.doe@example.com" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":5,"message":"User could not be found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":"100","state":"USER_STATE_ACTIVE","userName":"john.doe@example.com","human":{"profile":{"nickName":"jdoe"}}}}`))
	})
	c := p.client(t, 0)

	u, err := c.GetUserByLoginName(context.Background(), "john.doe@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, &User{ID: "100", UserName: "john.doe@example.com", NickName: "jdoe", State: "USER_STATE_ACTIVE"}, u)

	u, err = c.GetUserByLoginName(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestGetUserByNickName(t *testing.T) {
	p := newTestProvider(t)
	p.mux.HandleFunc("POST /management/v1/users/_search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Queries []struct {
				NickNameQuery struct {
					NickName string `json:"nickName"`
					Method   string `json:"method"`
				} `json:"nickNameQuery"`
			} `json:"queries"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Queries, 1)
		assert.Equal(t, "TEXT_QUERY_METHOD_EQUALS", body.Queries[0].NickNameQuery.Method)
		assert.Equal(t, "org-1", r.Header.Get(orgHeader))

		w.Header().Set("Content-Type", "application/json")
		if body.Queries[0].NickNameQuery.NickName == "jdoe" {
			_, _ = w.Write([]byte(`{"details":{"totalResult":"1"},"result":[{"id":"100","userName":"john.doe@example.com"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"details":{"totalResult":"0"}}`))
	})
	c := p.client(t, 0)

	u, err := c.GetUserByNickName(context.Background(), "org-1", "jdoe")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "100", u.ID)

	u, err = c.GetUserByNickName(context.Background(), "org-1", "unknown")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestProviderErrors(t *testing.T) {
	p := newTestProvider(t)
	p.handle(t, "POST /management/v1/users/human/_import", http.StatusBadRequest,
		`{"code":3,"message":"invalid ImportHumanUserRequest.Phone: value does not match regex pattern"}`)
	p.handle(t, "DELETE /management/v1/users/{id}", http.StatusNotFound, `{"code":5,"message":"User could not be found"}`)
	c := p.client(t, 0)

	_, err := c.CreateHumanUser(context.Background(), "org-1", ImportHumanUserRequest{UserName: "x@example.com"})
	require.Error(t, err)
	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsNotFound(err))

	var zerr *Error
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, KindValidation, zerr.Kind)
	assert.Equal(t, http.StatusBadRequest, zerr.HTTPStatus)
	assert.Contains(t, zerr.Message, "invalid ImportHumanUserRequest.Phone")
	assert.Contains(t, err.Error(), "create_human_user")

	err = c.RemoveUser(context.Background(), "404")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalidArgument(err))
}

func TestRetryPolicy(t *testing.T) {
	p := newTestProvider(t)

	var creates, lookups atomic.Int32
	p.mux.HandleFunc("POST /management/v1/users/human/_import", func(w http.ResponseWriter, _ *http.Request) {
		creates.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	p.mux.HandleFunc("GET /management/v1/global/users/_by_login_name", func(w http.ResponseWriter, _ *http.Request) {
		lookups.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := p.client(t, 2)

	_, err := c.CreateHumanUser(context.Background(), "org-1", ImportHumanUserRequest{UserName: "x@example.com"})
	require.Error(t, err)
	assert.EqualValues(t, 1, creates.Load(), "creates are sent once")

	_, err = c.GetUserByLoginName(context.Background(), "x@example.com")
	require.Error(t, err)
	assert.EqualValues(t, 3, lookups.Load())

	var zerr *Error
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, KindTransport, zerr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, zerr.HTTPStatus)
}

func TestTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	p := &testProvider{}
	var err error
	p.key, err = rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	c, err := New(context.Background(), Config{URL: srv.URL, Key: p.serviceAccountKey(), Timeout: time.Second})
	require.NoError(t, err)

	err = c.RemoveUser(context.Background(), "100")
	var zerr *Error
	require.ErrorAs(t, err, &zerr)
	assert.Equal(t, KindUnauthenticated, zerr.Kind)
}

func TestResponseErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
		code   int
	}{
		{"invalid argument", http.StatusBadRequest, `{"code":3,"message":"bad"}`, KindValidation, CodeInvalidArgument},
		{"failed precondition", http.StatusBadRequest, `{"code":9,"message":"bad"}`, KindValidation, CodeFailedPrecondition},
		{"not found", http.StatusNotFound, `{"code":5,"message":"gone"}`, KindNotFound, CodeNotFound},
		{"already exists", http.StatusConflict, `{"code":6,"message":"exists"}`, KindConflict, CodeAlreadyExists},
		{"permission denied", http.StatusForbidden, `{"code":7,"message":"no"}`, KindUnauthenticated, CodePermissionDenied},
		{"plain text 404", http.StatusNotFound, `not found`, KindNotFound, 0},
		{"server error", http.StatusBadGateway, ``, KindTransport, 0},
		{"teapot", http.StatusTeapot, `{}`, KindUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := responseError("op", tt.status, []byte(tt.body))
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.code, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}
