package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *State {
	return &State{
		Cookies: []*network.Cookie{{
			Name:         "qsid",
			Value:        "abc123",
			Domain:       ".quicken.com",
			Path:         "/",
			Expires:      1893456000,
			HTTPOnly:     true,
			Secure:       true,
			SameSite:     network.CookieSameSiteLax,
			Priority:     network.CookiePriorityMedium,
			SourceScheme: network.CookieSourceSchemeSecure,
			SourcePort:   443,
		}},
		Origins: []Origin{{
			Origin:       "https://simplifi.quicken.com",
			LocalStorage: []Entry{{Name: "token", Value: "t"}},
		}},
		SavedAt: time.Date(2026, 10, 17, 6, 0, 0, 0, time.UTC),
	}
}

func TestLoadMissingIsAbsent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth-state.json"))

	st, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.False(t, s.Exists())
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth-state.json")
	s := NewStore(path)

	require.NoError(t, s.Save(sampleState()))
	assert.True(t, s.Exists())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	st, err := s.Load()
	require.NoError(t, err)
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, "qsid", st.Cookies[0].Name)
	assert.Equal(t, network.CookieSameSiteLax, st.Cookies[0].SameSite)
	require.Len(t, st.Origins, 1)
	assert.Equal(t, "token", st.Origins[0].LocalStorage[0].Name)
	assert.True(t, st.SavedAt.Equal(sampleState().SavedAt))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth-state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	st, err := NewStore(path).Load()
	assert.Error(t, err)
	assert.Nil(t, st)
}

func TestSaveNil(t *testing.T) {
	assert.Error(t, NewStore(filepath.Join(t.TempDir(), "x.json")).Save(nil))
}

func TestClearIsIdempotent(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "auth-state.json"))
	require.NoError(t, s.Save(sampleState()))

	removed, err := s.Clear()
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, s.Exists())

	removed, err = s.Clear()
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestEmpty(t *testing.T) {
	var nilState *State
	assert.True(t, nilState.Empty())
	assert.True(t, (&State{}).Empty())
	assert.False(t, sampleState().Empty())
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultPath, NewStore("").Path())
}
