package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/isometry/ldap-sync/internal/ldap"
	"github.com/isometry/ldap-sync/internal/user"
)

type mockLDAPClient struct {
	mock.Mock
}

func (m *mockLDAPClient) Connect(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockLDAPClient) Close() error                      { return m.Called().Error(0) }
func (m *mockLDAPClient) Ping(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *mockLDAPClient) Stats() ldap.PoolStats             { return ldap.PoolStats{} }

func (m *mockLDAPClient) Search(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*ldap.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLDAPClient) SearchWithPaging(ctx context.Context, req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*ldap.SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func ldapAttributes() user.AttributeMap {
	return user.AttributeMap{
		FirstName:         user.Attr("givenName"),
		LastName:          user.Attr("sn"),
		PreferredUsername: user.Attr("displayName"),
		Email:             user.Attr("mail"),
		Phone:             user.Attr("telephoneNumber"),
		UserID:            user.Attr("uid"),
		Status:            user.Attr("shadowFlag"),
		DisableBitmasks:   []int32{1},
	}
}

func person(uid, status string, withMail bool) *goldap.Entry {
	attrs := map[string][]string{
		"uid":         {uid},
		"givenName":   {"Given"},
		"sn":          {"Family"},
		"displayName": {uid},
		"shadowFlag":  {status},
	}
	if withMail {
		attrs["mail"] = []string{uid + "@example.org"}
	}
	return goldap.NewEntry("uid="+uid+",ou=people,dc=example,dc=org", attrs)
}

func newLDAPSource(t *testing.T, client ldap.Client) *LDAP {
	t.Helper()
	attrs := ldapAttributes()
	poller := ldap.NewPoller(client, ldap.PollerConfig{
		Search:                 ldap.UserSearchConfig{BaseDN: "ou=people,dc=example,dc=org", Attributes: attrs},
		CachePath:              filepath.Join(t.TempDir(), "cache.json"),
		CheckForDeletedEntries: true,
	})
	return NewLDAP(poller, attrs)
}

func TestLDAPSource(t *testing.T) {
	client := &mockLDAPClient{}
	source := newLDAPSource(t, client)
	assert.Equal(t, "LDAP", source.Name())

	client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(&ldap.SearchResult{Entries: []*goldap.Entry{
		person("alice", "0", true),
		person("bob", "0", false),
		person("carol", "0", true),
	}}, nil).Once()

	first, err := source.GetDiff(context.Background())
	require.NoError(t, err)
	require.Len(t, first.NewUsers, 2)
	assert.Equal(t, "alice@example.org", first.NewUsers[0].Email.String())
	assert.Equal(t, "carol@example.org", first.NewUsers[1].Email.String())
	assert.Nil(t, first.NewUsers[0].Phone)
	assert.True(t, first.NewUsers[0].Enabled)

	client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(&ldap.SearchResult{Entries: []*goldap.Entry{
		person("alice", "1", true),
		person("bob", "0", false),
	}}, nil).Once()

	second, err := source.GetDiff(context.Background())
	require.NoError(t, err)

	assert.Empty(t, second.NewUsers, "bob is still missing mail")
	require.Len(t, second.ChangedUsers, 1)
	assert.True(t, second.ChangedUsers[0].Old.Enabled)
	assert.False(t, second.ChangedUsers[0].New.Enabled)
	assert.Equal(t, []user.UserID{user.NickID("carol")}, second.DeletedUserIDs)

	client.AssertExpectations(t)
}

func TestLDAPSourceSearchError(t *testing.T) {
	client := &mockLDAPClient{}
	client.On("SearchWithPaging", mock.Anything, mock.Anything).
		Return(nil, goldap.NewError(goldap.LDAPResultUnavailable, assert.AnError))

	_, err := newLDAPSource(t, client).GetDiff(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sync/fetch data from LDAP")
}

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.csv")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestCSVSource(t *testing.T) {
	path := writeFile(t, []byte(`email,first_name,last_name,phone
john.doe@example.com,John,Doe,+1111111111
jane.smith@example.com,Jane,Smith,+2222222222
alice.johnson@example.com,Alice,Johnson,
bob.williams@example.com,Bob,Williams,+4444444444
`))

	source := NewCSV(path)
	assert.Equal(t, "CSV", source.Name())

	diff, err := source.GetDiff(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diff.ChangedUsers)
	assert.Empty(t, diff.DeletedUserIDs)
	require.Len(t, diff.NewUsers, 4)

	john := diff.NewUsers[0]
	assert.Equal(t, "John", john.FirstName.String())
	assert.Equal(t, "john.doe@example.com", john.Email.String())
	assert.Equal(t, "john.doe@example.com", john.PreferredUsername.String())
	assert.Equal(t, "john.doe@example.com", john.ExternalUserID.String())
	assert.True(t, john.Enabled)

	assert.Equal(t, "Williams", diff.NewUsers[3].LastName.String())
	assert.Nil(t, diff.NewUsers[2].Phone)
	require.NotNil(t, diff.NewUsers[3].Phone)
	assert.Equal(t, "+4444444444", diff.NewUsers[3].Phone.String())
}

func TestCSVSourceEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		content string
		emails  []string
	}{
		{"header only", "email,first_name,last_name,phone\n", nil},
		{"empty file", "", nil},
		{"invalid headers", "first_name\njohn.doe@example.com,John,Doe,+1111111111\n", nil},
		{
			"invalid content",
			"email,first_name,last_name,phone\njohn.doe@example.com\njane.smith@example.com,Jane,Smith,+2222222222\n",
			[]string{"jane.smith@example.com"},
		},
		{
			"reordered columns",
			"phone,last_name,first_name,email\n,Smith,Jane,jane.smith@example.com\n",
			[]string{"jane.smith@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff, err := NewCSV(writeFile(t, []byte(tt.content))).GetDiff(context.Background())
			require.NoError(t, err)

			var emails []string
			for _, u := range diff.NewUsers {
				emails = append(emails, u.Email.String())
			}
			assert.Equal(t, tt.emails, emails)
		})
	}
}

func TestCSVSourceMissingFile(t *testing.T) {
	_, err := NewCSV(filepath.Join(t.TempDir(), "invalid_path.csv")).GetDiff(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open CSV file")
}

func TestCSVSourceEncodings(t *testing.T) {
	const content = "email,first_name,last_name,phone\nrene@example.com,René,Müller,\n"

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(content))
	require.NoError(t, err)
	latin1, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(content))
	require.NoError(t, err)
	decomposed := []byte("email,first_name,last_name,phone\nrene@example.com,Rene\u0301,Mu\u0308ller,\n")

	tests := map[string][]byte{
		"utf-8":            []byte(content),
		"utf-8 with bom":   append([]byte{0xEF, 0xBB, 0xBF}, content...),
		"utf-16 with bom":  utf16,
		"latin-1":          latin1,
		"decomposed utf-8": decomposed,
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			diff, err := NewCSV(writeFile(t, data)).GetDiff(context.Background())
			require.NoError(t, err)
			require.Len(t, diff.NewUsers, 1)
			assert.Equal(t, "rene@example.com", diff.NewUsers[0].Email.String())
			assert.Equal(t, "René", diff.NewUsers[0].FirstName.String())
			assert.Equal(t, "Müller", diff.NewUsers[0].LastName.String())
		})
	}
}

func newDisableListServer(t *testing.T, listStatus int, listBody string) (*httptest.Server, *http.Request) {
	t.Helper()
	var seen http.Request

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "openid read-maillist", r.PostForm.Get("scope"))
		assert.Equal(t, "mock_client_id", r.PostForm.Get("client_id"))
		assert.Equal(t, "mock_client_secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"mock_access_token","id_token":"mock_id_token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /usersync4chat/maillist", func(w http.ResponseWriter, r *http.Request) {
		seen = *r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(listStatus)
		_, _ = w.Write([]byte(listBody))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newDisableList(srv *httptest.Server) *DisableList {
	s := NewDisableList(context.Background(), DisableListConfig{
		EndpointURL:  srv.URL + "/usersync4chat/maillist",
		OAuth2URL:    srv.URL + "/token",
		ClientID:     "mock_client_id",
		ClientSecret: "mock_client_secret",
		Scope:        "openid read-maillist",
		GrantType:    "client_credentials",
		Timeout:      5 * time.Second,
	})
	s.now = func() time.Time { return time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("CET", 3600)) }
	return s
}

func TestDisableListSource(t *testing.T) {
	srv, seen := newDisableListServer(t, http.StatusOK, `["first@example.com","second@example.com"]`)
	source := newDisableList(srv)
	assert.Equal(t, "DisableList", source.Name())

	diff, err := source.GetDiff(context.Background())
	require.NoError(t, err)
	assert.Empty(t, diff.NewUsers)
	assert.Empty(t, diff.ChangedUsers)
	assert.Equal(t, []user.UserID{user.LoginID("first@example.com"), user.LoginID("second@example.com")}, diff.DeletedUserIDs)

	assert.Equal(t, "20240309", seen.URL.Query().Get("date"))
	assert.Equal(t, "Bearer mock_access_token", seen.Header.Get("Authorization"))
	assert.Equal(t, "mock_id_token", seen.Header.Get("x-participant-token"))
}

func TestDisableListSourceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error status", http.StatusForbidden, `[]`, "error in response: 403"},
		{"error member", http.StatusOK, `{"error":"invalid participant"}`, "error in response"},
		{"not an array", http.StatusOK, `{"emails":[]}`, "expected an array"},
		{"non string element", http.StatusOK, `["first@example.com", 3]`, "unexpected Number element"},
		{"invalid JSON", http.StatusOK, `[`, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newDisableListServer(t, tt.status, tt.body)
			_, err := newDisableList(srv).GetDiff(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDisableListSourceTokenErrors(t *testing.T) {
	t.Run("missing id token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"mock_access_token","token_type":"Bearer"}`))
		}))
		defer srv.Close()

		_, err := newDisableList(srv).GetDiff(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing id_token")
	})

	t.Run("token endpoint failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
		}))
		defer srv.Close()

		_, err := newDisableList(srv).GetDiff(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get OAuth2 token")
	})
}
