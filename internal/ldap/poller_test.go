package ldap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-sync/internal/user"
)

// MockClient implements the Client interface for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	if result, ok := args.Get(0).(*SearchResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockClient) Stats() PoolStats {
	args := m.Called()
	if stats, ok := args.Get(0).(PoolStats); ok {
		return stats
	}
	return PoolStats{}
}

func testAttributes() user.AttributeMap {
	modified := user.Attr("modifyTimestamp")
	return user.AttributeMap{
		FirstName:         user.Attr("givenName"),
		LastName:          user.Attr("sn"),
		PreferredUsername: user.Attr("displayName"),
		Email:             user.Attr("mail"),
		Phone:             user.Attr("telephoneNumber"),
		UserID:            user.Attr("uid"),
		Status:            user.Attr("shadowFlag"),
		DisableBitmasks:   []int32{1},
		LastModified:      &modified,
	}
}

func personEntry(uid, mail, modified string) *ldap.Entry {
	return ldap.NewEntry("uid="+uid+",ou=people,dc=example,dc=org", map[string][]string{
		"uid":             {uid},
		"givenName":       {"Alice"},
		"sn":              {"Example"},
		"displayName":     {uid},
		"mail":            {mail},
		"telephoneNumber": {"+12015550123"},
		"shadowFlag":      {"0"},
		"modifyTimestamp": {modified},
	})
}

func newTestPoller(t *testing.T, client Client, checkDeleted bool) *Poller {
	t.Helper()
	return NewPoller(client, PollerConfig{
		Search: UserSearchConfig{
			BaseDN:     "ou=people,dc=example,dc=org",
			Filter:     "(objectClass=inetOrgPerson)",
			Attributes: testAttributes(),
		},
		CachePath:              filepath.Join(t.TempDir(), "cache.json"),
		CheckForDeletedEntries: checkDeleted,
	})
}

func expectSearch(client *MockClient, entries ...*ldap.Entry) *mock.Call {
	return client.On("SearchWithPaging", mock.Anything, mock.Anything).
		Return(&SearchResult{Entries: entries, Total: len(entries)}, nil).Once()
}

func key(uid string) string {
	return hex.EncodeToString([]byte(uid))
}

func TestUserSearcherAttributes(t *testing.T) {
	client := &MockClient{}
	client.On("SearchWithPaging", mock.Anything, mock.MatchedBy(func(req *SearchRequest) bool {
		return req.Filter == "(objectClass=*)" &&
			req.Scope == ScopeWholeSubtree &&
			assert.ObjectsAreEqual([]string{"uid", "shadowFlag", "givenName", "sn", "displayName", "mail", "telephoneNumber", "modifyTimestamp"}, req.Attributes)
	})).Return(&SearchResult{}, nil).Once()

	searcher := NewUserSearcher(client, UserSearchConfig{
		BaseDN:             "dc=example,dc=org",
		Attributes:         testAttributes(),
		UseAttributeFilter: true,
	})
	_, err := searcher.SearchUsers(context.Background())
	require.NoError(t, err)
	client.AssertExpectations(t)

	assert.Equal(t, []string{"*"}, NewUserSearcher(client, UserSearchConfig{}).attributes())
}

func TestUserSearcherError(t *testing.T) {
	client := &MockClient{}
	client.On("SearchWithPaging", mock.Anything, mock.Anything).
		Return(nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))

	_, err := NewUserSearcher(client, UserSearchConfig{BaseDN: "dc=example,dc=org"}).SearchUsers(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
}

func TestCheckBaseDN(t *testing.T) {
	const baseDN = "ou=people,dc=example,dc=org"
	isBaseRead := mock.MatchedBy(func(req *SearchRequest) bool {
		return req.BaseDN == baseDN && req.Scope == ScopeBaseObject && req.SizeLimit == 1
	})

	t.Run("exists", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, isBaseRead).
			Return(&SearchResult{Entries: []*ldap.Entry{ldap.NewEntry(baseDN, nil)}, Total: 1}, nil).Once()

		assert.NoError(t, CheckBaseDN(context.Background(), client, baseDN))
		client.AssertExpectations(t)
	})

	t.Run("no such object", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, isBaseRead).
			Return(nil, fmt.Errorf("search failed: %w", ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object")))).Once()

		err := CheckBaseDN(context.Background(), client, baseDN)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `base DN "ou=people,dc=example,dc=org" does not exist`)
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("not visible", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, isBaseRead).Return(&SearchResult{}, nil).Once()

		assert.ErrorContains(t, CheckBaseDN(context.Background(), client, baseDN), "not visible")
	})

	t.Run("connection failure", func(t *testing.T) {
		client := &MockClient{}
		client.On("Search", mock.Anything, isBaseRead).Return(nil, errors.New("connection refused")).Once()

		err := CheckBaseDN(context.Background(), client, baseDN)
		assert.Equal(t, ErrorCategoryConnection, GetErrorCategory(err))
	})
}

func TestValidateUserSearchConfig(t *testing.T) {
	assert.Error(t, ValidateUserSearchConfig(UserSearchConfig{}))
	assert.Error(t, ValidateUserSearchConfig(UserSearchConfig{BaseDN: "dc=example,dc=org"}))
	assert.NoError(t, ValidateUserSearchConfig(UserSearchConfig{BaseDN: "dc=example,dc=org", Attributes: testAttributes()}))
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	snapshot, found, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, snapshot.Entries)

	snapshot.Entries["a0a1"] = &SnapshotEntry{
		DN:         "uid=alice,dc=example,dc=org",
		Attributes: map[string][][]byte{"userCertificate": {{0xA0, 0xA1}}},
		Modified:   []byte("20240101000000Z"),
	}
	require.NoError(t, snapshot.Save(path))

	loaded, found, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snapshot.Entries, loaded.Entries)
	assert.Equal(t, []byte{0xA0, 0xA1}, loaded.Entries["a0a1"].Entry().GetRawAttributeValue("userCertificate"))

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".cache.json.*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files are cleaned up")
}

func TestLoadSnapshotErrors(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o600))
	_, _, err := LoadSnapshot(corrupt)
	assert.ErrorContains(t, err, "cache deserialization failed")

	future := filepath.Join(dir, "future.json")
	require.NoError(t, os.WriteFile(future, []byte(`{"version":99,"entries":{}}`), 0o600))
	_, _, err = LoadSnapshot(future)
	assert.ErrorContains(t, err, "unsupported cache version")
}

func TestPollerFirstPass(t *testing.T) {
	client := &MockClient{}
	expectSearch(client, personEntry("alice", "alice@example.org", "1"), personEntry("bob", "bob@example.org", "1"))

	poller := newTestPoller(t, client, true)
	result, err := poller.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Events, 2)
	for _, ev := range result.Events {
		assert.Equal(t, EntryNew, ev.Status)
		assert.Nil(t, ev.Old)
	}

	require.NoError(t, poller.Commit(context.Background(), result))
	snapshot, found, err := LoadSnapshot(poller.config.CachePath)
	require.NoError(t, err)
	assert.True(t, found)
	assert.ElementsMatch(t, []string{key("alice"), key("bob")}, snapshot.Keys())
}

func TestPollerChangedAndRemoved(t *testing.T) {
	client := &MockClient{}
	poller := newTestPoller(t, client, true)

	expectSearch(client,
		personEntry("alice", "alice@example.org", "1"),
		personEntry("bob", "bob@example.org", "1"),
		personEntry("carol", "carol@example.org", "1"),
	)
	first, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, poller.Commit(context.Background(), first))

	unchangedButTouched := personEntry("bob", "bob@example.org", "2")
	expectSearch(client,
		personEntry("alice", "alice.new@example.org", "2"),
		unchangedButTouched,
	)
	second, err := poller.Poll(context.Background())
	require.NoError(t, err)

	require.Len(t, second.Events, 2)

	changed := second.Events[0]
	assert.Equal(t, EntryChanged, changed.Status)
	assert.Equal(t, key("alice"), changed.Key)
	assert.Equal(t, "alice@example.org", changed.Old.GetAttributeValue("mail"))
	assert.Equal(t, "alice.new@example.org", changed.Entry.GetAttributeValue("mail"))

	removed := second.Events[1]
	assert.Equal(t, EntryRemoved, removed.Status)
	assert.Equal(t, key("carol"), removed.Key)
	assert.Equal(t, "carol", removed.Old.GetAttributeValue("uid"))
}

func TestPollerSkipsUnmodifiedEntries(t *testing.T) {
	client := &MockClient{}
	poller := newTestPoller(t, client, true)

	expectSearch(client, personEntry("alice", "alice@example.org", "1"))
	first, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, poller.Commit(context.Background(), first))

	// Same modification time: tracked attributes are not compared.
	expectSearch(client, personEntry("alice", "alice.new@example.org", "1"))
	second, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Events)
}

func TestPollerWithoutDeletionCheck(t *testing.T) {
	client := &MockClient{}
	poller := newTestPoller(t, client, false)

	expectSearch(client, personEntry("alice", "alice@example.org", "1"))
	first, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, poller.Commit(context.Background(), first))

	expectSearch(client)
	second, err := poller.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Events)
	require.NoError(t, poller.Commit(context.Background(), second))

	snapshot, _, err := LoadSnapshot(poller.config.CachePath)
	require.NoError(t, err)
	assert.Equal(t, []string{key("alice")}, snapshot.Keys(), "entries stay cached")
}

func TestPollerReject(t *testing.T) {
	client := &MockClient{}
	poller := newTestPoller(t, client, true)

	expectSearch(client, personEntry("alice", "alice@example.org", "1"))
	first, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, poller.Commit(context.Background(), first))

	expectSearch(client, personEntry("alice", "alice.new@example.org", "2"), personEntry("bob", "bob@example.org", "1"))
	second, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Events, 2)

	second.Reject(key("alice"))
	second.Reject(key("bob"))
	require.NoError(t, poller.Commit(context.Background(), second))

	// Rejected entries are reported again.
	expectSearch(client, personEntry("alice", "alice.new@example.org", "2"), personEntry("bob", "bob@example.org", "1"))
	third, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, third.Events, 2)
	assert.Equal(t, EntryChanged, third.Events[0].Status)
	assert.Equal(t, EntryNew, third.Events[1].Status)
}

func TestPollerDryRunDoesNotWriteCache(t *testing.T) {
	client := &MockClient{}
	poller := newTestPoller(t, client, true)
	poller.config.DryRun = true

	expectSearch(client, personEntry("alice", "alice@example.org", "1"))
	result, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.NoError(t, poller.Commit(context.Background(), result))

	_, err = os.Stat(poller.config.CachePath)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPollerSkipsEntriesWithoutUserID(t *testing.T) {
	client := &MockClient{}
	poller := newTestPoller(t, client, true)

	anonymous := ldap.NewEntry("cn=nobody,dc=example,dc=org", map[string][]string{"mail": {"nobody@example.org"}})
	expectSearch(client, anonymous, personEntry("alice", "alice@example.org", "1"), personEntry("alice", "dup@example.org", "1"))

	result, err := poller.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, key("alice"), result.Events[0].Key)
}
