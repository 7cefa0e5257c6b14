package zitadel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Gender values of a human profile.
const GenderUnspecified = "GENDER_UNSPECIFIED"

// Profile is the profile of a human user.
type Profile struct {
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	NickName          string `json:"nickName,omitempty"`
	DisplayName       string `json:"displayName,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	Gender            string `json:"gender,omitempty"`
}

// Email is the e-mail address of a human user.
type Email struct {
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
}

// Phone is the phone number of a human user.
type Phone struct {
	Phone           string `json:"phone"`
	IsPhoneVerified bool   `json:"isPhoneVerified"`
}

// IDPLink links a user to an external identity provider.
type IDPLink struct {
	ConfigID       string `json:"configId"`
	ExternalUserID string `json:"externalUserId"`
	DisplayName    string `json:"displayName"`
}

// ImportHumanUserRequest creates a human user.
type ImportHumanUserRequest struct {
	UserName                        string    `json:"userName"`
	Profile                         Profile   `json:"profile"`
	Email                           Email     `json:"email"`
	Phone                           *Phone    `json:"phone,omitempty"`
	RequestPasswordlessRegistration bool      `json:"requestPasswordlessRegistration"`
	IDPs                            []IDPLink `json:"idps,omitempty"`
}

// User is the subset of a provider user record the sync needs.
type User struct {
	ID       string
	UserName string
	NickName string
	State    string
}

func parseUser(u gjson.Result) *User {
	return &User{
		ID:       u.Get("id").String(),
		UserName: u.Get("userName").String(),
		NickName: u.Get("human.profile.nickName").String(),
		State:    u.Get("state").String(),
	}
}

func userPath(id string, suffix string) string {
	return "/management/v1/users/" + url.PathEscape(id) + suffix
}

// CreateHumanUser imports a human user into org and returns its id. The
// request is never retried by the transport.
func (c *Client) CreateHumanUser(ctx context.Context, org string, req ImportHumanUserRequest) (string, error) {
	var resp struct {
		UserID string `json:"userId"`
	}
	err := c.do(withoutRetry(ctx), "create_human_user", http.MethodPost, "/management/v1/users/human/_import", org, req, &resp)
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

// UpdateHumanUserName changes the login name of a user.
func (c *Client) UpdateHumanUserName(ctx context.Context, org, id, userName string) error {
	return c.do(ctx, "update_user_name", http.MethodPut, userPath(id, "/username"), org,
		map[string]string{"userName": userName}, nil)
}

// UpdateHumanProfile replaces the profile of a user.
func (c *Client) UpdateHumanProfile(ctx context.Context, org, id string, profile Profile) error {
	return c.do(ctx, "update_human_profile", http.MethodPut, userPath(id, "/profile"), org, profile, nil)
}

// UpdateHumanEmail changes the e-mail address of a user.
func (c *Client) UpdateHumanEmail(ctx context.Context, org, id string, email Email) error {
	return c.do(ctx, "update_human_email", http.MethodPut, userPath(id, "/email"), org, email, nil)
}

// UpdateHumanPhone changes the phone number of a user.
func (c *Client) UpdateHumanPhone(ctx context.Context, org, id string, phone Phone) error {
	return c.do(ctx, "update_human_phone", http.MethodPut, userPath(id, "/phone"), org, phone, nil)
}

// RemoveHumanPhone removes the phone number of a user.
func (c *Client) RemoveHumanPhone(ctx context.Context, org, id string) error {
	return c.do(ctx, "remove_human_phone", http.MethodDelete, userPath(id, "/phone"), org, nil, nil)
}

// SetUserMetadata sets metadata key of a user. Values travel base64 encoded.
func (c *Client) SetUserMetadata(ctx context.Context, org, id, key string, value []byte) error {
	body := map[string]string{"value": base64.StdEncoding.EncodeToString(value)}
	return c.do(ctx, "set_user_metadata", http.MethodPost, userPath(id, "/metadata/"+url.PathEscape(key)), org, body, nil)
}

// AddUserGrant grants roles of project to a user.
func (c *Client) AddUserGrant(ctx context.Context, org, id, project string, roles []string) error {
	body := map[string]any{"projectId": project, "roleKeys": roles}
	return c.do(withoutRetry(ctx), "add_user_grant", http.MethodPost, userPath(id, "/grants"), org, body, nil)
}

// GetUserByLoginName looks a user up by login name across organisations. It
// returns nil without error when no user has that login name.
func (c *Client) GetUserByLoginName(ctx context.Context, loginName string) (*User, error) {
	var raw json.RawMessage
	path := "/management/v1/global/users/_by_login_name?" + url.Values{"loginName": {loginName}}.Encode()
	if err := c.do(ctx, "get_user_by_login_name", http.MethodGet, path, "", nil, &raw); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	u := gjson.GetBytes(raw, "user")
	if !u.Exists() {
		return nil, nil
	}
	return parseUser(u), nil
}

// GetUserByNickName looks a user of org up by nick name. It returns nil
// without error when no user matches.
func (c *Client) GetUserByNickName(ctx context.Context, org, nickName string) (*User, error) {
	query := map[string]any{
		"queries": []any{
			map[string]any{
				"nickNameQuery": map[string]string{
					"nickName": nickName,
					"method":   "TEXT_QUERY_METHOD_EQUALS",
				},
			},
		},
	}

	var raw json.RawMessage
	if err := c.do(ctx, "get_user_by_nick_name", http.MethodPost, "/management/v1/users/_search", org, query, &raw); err != nil {
		return nil, err
	}

	first := gjson.GetBytes(raw, "result.0")
	if !first.Exists() {
		return nil, nil
	}
	return parseUser(first), nil
}

// RemoveUser deletes a user.
func (c *Client) RemoveUser(ctx context.Context, id string) error {
	return c.do(ctx, "remove_user", http.MethodDelete, userPath(id, ""), "", nil, nil)
}
