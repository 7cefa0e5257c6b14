package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/isometry/ldap-sync/internal/user"
	"github.com/isometry/ldap-sync/internal/zitadel"
)

// MockDirectory is a mock implementation of Directory.
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) CreateHumanUser(ctx context.Context, org string, req zitadel.ImportHumanUserRequest) (string, error) {
	args := m.Called(ctx, org, req)
	return args.String(0), args.Error(1)
}

func (m *MockDirectory) UpdateHumanUserName(ctx context.Context, org, id, userName string) error {
	return m.Called(ctx, org, id, userName).Error(0)
}

func (m *MockDirectory) UpdateHumanProfile(ctx context.Context, org, id string, profile zitadel.Profile) error {
	return m.Called(ctx, org, id, profile).Error(0)
}

func (m *MockDirectory) UpdateHumanEmail(ctx context.Context, org, id string, email zitadel.Email) error {
	return m.Called(ctx, org, id, email).Error(0)
}

func (m *MockDirectory) UpdateHumanPhone(ctx context.Context, org, id string, phone zitadel.Phone) error {
	return m.Called(ctx, org, id, phone).Error(0)
}

func (m *MockDirectory) RemoveHumanPhone(ctx context.Context, org, id string) error {
	return m.Called(ctx, org, id).Error(0)
}

func (m *MockDirectory) SetUserMetadata(ctx context.Context, org, id, key string, value []byte) error {
	return m.Called(ctx, org, id, key, value).Error(0)
}

func (m *MockDirectory) AddUserGrant(ctx context.Context, org, id, project string, roles []string) error {
	return m.Called(ctx, org, id, project, roles).Error(0)
}

func (m *MockDirectory) GetUserByLoginName(ctx context.Context, loginName string) (*zitadel.User, error) {
	args := m.Called(ctx, loginName)
	if u, ok := args.Get(0).(*zitadel.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) GetUserByNickName(ctx context.Context, org, nickName string) (*zitadel.User, error) {
	args := m.Called(ctx, org, nickName)
	if u, ok := args.Get(0).(*zitadel.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDirectory) RemoveUser(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// mutatingCalls are the Directory methods that change provider state.
var mutatingCalls = []string{
	"CreateHumanUser",
	"UpdateHumanUserName",
	"UpdateHumanProfile",
	"UpdateHumanEmail",
	"UpdateHumanPhone",
	"RemoveHumanPhone",
	"SetUserMetadata",
	"AddUserGrant",
	"RemoveUser",
}

// assertNoCalls fails for every recorded call to one of methods.
func assertNoCalls(t *testing.T, dir *MockDirectory, methods ...string) {
	t.Helper()
	for _, call := range dir.Calls {
		assert.NotContains(t, methods, call.Method, "unexpected call %s%v", call.Method, call.Arguments)
	}
}

type fakeSource struct {
	name string
	diff user.SourceDiff
	err  error
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) GetDiff(context.Context) (user.SourceDiff, error) {
	return s.diff, s.err
}

func phone(s string) *user.AttributeValue {
	v := user.Text(s)
	return &v
}

func testUser(email string, enabled bool) user.User {
	local := email
	if i := len(email) - len("@example.com"); i > 0 {
		local = email[:i]
	}
	return user.User{
		FirstName:         user.Text("John"),
		LastName:          user.Text("Doe"),
		PreferredUsername: user.Text(local),
		Email:             user.Text(email),
		Phone:             phone("+12015550123"),
		ExternalUserID:    user.Text(local),
		Enabled:           enabled,
	}
}
