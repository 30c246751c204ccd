package domain

import "testing"

func TestAccountClone(t *testing.T) {
	a := &Account{
		AccountType: "fakebank",
		Auth:        map[string]string{AuthLogin: "jdoe", AuthPassword: "secret"},
		OAuth:       &OAuthInfo{AccessToken: "tok"},
	}
	a.ID = "acc1"

	c := a.Clone()
	c.Auth[AuthLogin] = "other"
	c.OAuth.AccessToken = "changed"

	if a.Login() != "jdoe" {
		t.Errorf("clone shares auth map, login is now %q", a.Login())
	}
	if a.OAuth.AccessToken != "tok" {
		t.Errorf("clone shares oauth info, token is now %q", a.OAuth.AccessToken)
	}
	if c.ID != "acc1" {
		t.Errorf("expected id to be copied, got %q", c.ID)
	}

	var nilAccount *Account
	if nilAccount.Clone() != nil {
		t.Error("expected nil clone of nil account")
	}
}

func TestAccountIsOAuth(t *testing.T) {
	var nilAccount *Account
	if nilAccount.IsOAuth() {
		t.Error("nil account is not oauth")
	}
	if (&Account{}).IsOAuth() {
		t.Error("plain account is not oauth")
	}
	if !(&Account{OAuth: &OAuthInfo{}}).IsOAuth() {
		t.Error("expected oauth account")
	}
}

func TestAccountValuesApplyTo(t *testing.T) {
	tests := []struct {
		name       string
		values     AccountValues
		wantLogin  string
		wantPass   string
		wantFolder string
	}{
		{
			name:      "credentials",
			values:    AccountValues{Login: "new", Password: "pw"},
			wantLogin: "new",
			wantPass:  "pw",
		},
		{
			name:      "login without password is ignored",
			values:    AccountValues{Login: "new"},
			wantLogin: "jdoe",
			wantPass:  "secret",
		},
		{
			name:       "folder only",
			values:     AccountValues{FolderPath: "/Administrative/Bank"},
			wantLogin:  "jdoe",
			wantPass:   "secret",
			wantFolder: "/Administrative/Bank",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{Auth: map[string]string{AuthLogin: "jdoe", AuthPassword: "secret"}}
			tt.values.ApplyTo(a)

			if a.Auth[AuthLogin] != tt.wantLogin {
				t.Errorf("expected login %q, got %q", tt.wantLogin, a.Auth[AuthLogin])
			}
			if a.Auth[AuthPassword] != tt.wantPass {
				t.Errorf("expected password %q, got %q", tt.wantPass, a.Auth[AuthPassword])
			}
			if a.Auth[AuthFolderPath] != tt.wantFolder {
				t.Errorf("expected folder %q, got %q", tt.wantFolder, a.Auth[AuthFolderPath])
			}
		})
	}
}

func TestAccountValuesApplyTo_NilAuth(t *testing.T) {
	a := &Account{}
	AccountValues{FolderPath: "/Bank"}.ApplyTo(a)
	if a.Auth == nil || a.Auth[AuthFolderPath] != "/Bank" {
		t.Errorf("expected auth to be initialised, got %v", a.Auth)
	}
}
