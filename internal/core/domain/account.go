package domain

import "maps"

// Auth keys with a special meaning.
const (
	AuthLogin      = "login"
	AuthPassword   = "password"
	AuthFolderPath = "folderPath"
)

// Account is one user's credentials for one konnector.
type Account struct {
	DocMeta

	// AccountType is the slug of the konnector this account belongs to
	AccountType string `json:"account_type"`

	// Auth is the opaque credential payload (login/password or OAuth token)
	Auth map[string]string `json:"auth,omitempty"`

	// FolderID is the storage folder receiving the konnector's files
	FolderID string `json:"folderId,omitempty"`

	// OAuth is set when the account was created by an OAuth flow
	OAuth *OAuthInfo `json:"oauth,omitempty"`
}

// OAuthInfo marks accounts authorized through OAuth.
type OAuthInfo struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// IsOAuth reports whether the account comes from an OAuth flow.
func (a *Account) IsOAuth() bool {
	return a != nil && a.OAuth != nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Auth = maps.Clone(a.Auth)
	if a.OAuth != nil {
		o := *a.OAuth
		c.OAuth = &o
	}
	return &c
}

// Login returns the login credential, if any.
func (a *Account) Login() string {
	return a.Auth[AuthLogin]
}

// AccountValues are the user-editable parts of an account.
type AccountValues struct {
	Login      string `json:"login,omitempty"`
	Password   string `json:"password,omitempty"`
	FolderPath string `json:"folderPath,omitempty"`
}

// ApplyTo patches the account auth. Credentials change only when both
// login and password are given.
func (v AccountValues) ApplyTo(a *Account) {
	if a.Auth == nil {
		a.Auth = map[string]string{}
	}
	if v.Login != "" && v.Password != "" {
		a.Auth[AuthLogin] = v.Login
		a.Auth[AuthPassword] = v.Password
	}
	if v.FolderPath != "" {
		a.Auth[AuthFolderPath] = v.FolderPath
	}
}
