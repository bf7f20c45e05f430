package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/nikshitha/leadgen/browser"
	"github.com/nikshitha/leadgen/config"
	"github.com/nikshitha/leadgen/stealth"
	"github.com/nikshitha/leadgen/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuth(t *testing.T) *Authenticator {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.CookiesPath = filepath.Join(t.TempDir(), "cookies.json")
	sm := stealth.NewManager(cfg.Stealth, nil)
	return NewAuthenticator(cfg, browser.NewSession(cfg.Browser, sm, nil), sm, nil, nil)
}

func TestIsLoggedInURL(t *testing.T) {
	assert.True(t, IsLoggedInURL("https://www.linkedin.com/feed/"))
	assert.True(t, IsLoggedInURL("https://www.linkedin.com/checkpoint/challenge/abc"))
	assert.False(t, IsLoggedInURL("https://www.linkedin.com/login"))
	assert.False(t, IsLoggedInURL("https://www.linkedin.com/authwall?trk=x"))
}

func TestInitialStatus(t *testing.T) {
	a := newTestAuth(t)

	st := a.Status(context.Background())

	assert.False(t, st.LoggedIn)
	assert.False(t, st.Waiting)
	assert.Equal(t, "Not logged in", st.Message)
	assert.False(t, st.Timestamp.IsZero())
	assert.ErrorIs(t, a.RequireLogin(context.Background()), ErrNotLoggedIn)
}

func TestAutomaticLoginNeedsCredentials(t *testing.T) {
	a := newTestAuth(t)

	_, err := a.Login(context.Background(), MethodAutomatic, "", "")

	assert.ErrorIs(t, err, ErrCredentialsRequired)
	assert.False(t, a.IsLoggedIn())
}

func TestLogoutWithoutSession(t *testing.T) {
	a := newTestAuth(t)
	require.NoError(t, storage.SaveCookiesToFile([]*storage.SessionCookie{{Name: "li_at", Value: "x"}}, a.config.Storage.CookiesPath))

	st, err := a.Logout(context.Background())
	require.NoError(t, err)

	assert.False(t, st.LoggedIn)
	assert.Equal(t, "Logged out", st.Message)

	cookies, err := storage.LoadCookiesFromFile(a.config.Storage.CookiesPath)
	require.NoError(t, err)
	assert.Empty(t, cookies)
}

func TestWaitForLoginWithoutPendingLogin(t *testing.T) {
	a := newTestAuth(t)

	_, err := a.WaitForLogin(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestCookieConversion(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	jar := []*proto.NetworkCookie{
		{Name: "li_at", Value: "token", Domain: ".linkedin.com", Path: "/", Expires: proto.TimeSinceEpoch(1_800_000_000), HTTPOnly: true, Secure: true},
		{Name: "_ga", Value: "x", Domain: ".google.com", Path: "/"},
		{Name: "old", Value: "y", Domain: ".www.linkedin.com", Path: "/", Expires: proto.TimeSinceEpoch(1_600_000_000)},
		{Name: "lang", Value: "en", Domain: ".linkedin.com", Path: "/"},
	}

	stored := FromNetworkCookies(jar)
	require.Len(t, stored, 3)
	assert.Equal(t, "li_at", stored[0].Name)
	assert.Equal(t, int64(1_800_000_000), stored[0].Expires)

	params := ToCookieParams(stored, now)
	require.Len(t, params, 2)
	assert.Equal(t, "li_at", params[0].Name)
	assert.True(t, params[0].HTTPOnly)
	assert.Equal(t, "lang", params[1].Name)
}
