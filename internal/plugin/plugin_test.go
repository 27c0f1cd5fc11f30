package plugin

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ircbotd/internal/rng"
	"github.com/oriys/ircbotd/internal/store"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	db, err := store.Create(filepath.Join(t.TempDir(), "plugin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	regs := rng.NewRegistry(func() (uint64, uint64) { return 1, 2 })
	return New(t.TempDir(), true, db, regs)
}

func TestCheckWhitelistSkipsExemptNames(t *testing.T) {
	l := newTestLoader(t)
	err := l.checkWhitelist([]string{"", "_hidden", "module_name"})
	assert.NoError(t, err)
}

func TestCheckWhitelistRejectsUnknownLibcSymbol(t *testing.T) {
	l := newTestLoader(t)
	err := l.checkWhitelist([]string{"popen"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "libc-origin")
}

func TestCheckWhitelistRejectsUnknownNonLibcSymbol(t *testing.T) {
	l := newTestLoader(t)
	err := l.checkWhitelist([]string{"SomeVendoredHelper"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "blacklisted")
}

func TestCheckWhitelistAllowsExplicitlyWhitelistedSymbol(t *testing.T) {
	l := newTestLoader(t)
	_, err := l.db.Exec(`INSERT INTO WHITELIST (NAME, LIBC) VALUES (?, ?)`, "si", "popen", int64(1))
	require.NoError(t, err)

	assert.NoError(t, l.checkWhitelist([]string{"popen"}))
}

func TestLoadedReportsUnknownModule(t *testing.T) {
	l := newTestLoader(t)
	_, ok := l.Loaded("nonexistent")
	assert.False(t, ok)
}
