package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ircbotd/internal/access"
	"github.com/oriys/ircbotd/internal/gcarena"
	"github.com/oriys/ircbotd/internal/moduleapi"
	"github.com/oriys/ircbotd/internal/regexcache"
	"github.com/oriys/ircbotd/internal/rng"
	"github.com/oriys/ircbotd/internal/store"
)

func newTestAPI(t *testing.T, nick string, seed1, seed2 uint64) (*moduleapi.API, *[]string) {
	t.Helper()
	db, err := store.Create(filepath.Join(t.TempDir(), "fail.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var replies []string
	say := func(target, text string) { replies = append(replies, text) }

	src := rng.NewRegistry(func() (uint64, uint64) { return seed1, seed2 }).For("fail")
	arena := gcarena.New()
	t.Cleanup(arena.Release)

	api := moduleapi.New("net", "#chan", "alice", nick, db, access.New(db), regexcache.New(), src, arena, say, say)
	return api, &replies
}

func TestModuleMatchRequiresTrailingTarget(t *testing.T) {
	assert.True(t, ModuleMatch("fail bob"))
	assert.False(t, ModuleMatch("fail"))
	assert.False(t, ModuleMatch("failure"))
}

func TestModuleEnterProtectsTheBotsOwnNick(t *testing.T) {
	api, replies := newTestAPI(t, "bot", 1, 2)
	require.NoError(t, ModuleEnter(api, "net", "#chan", "alice", "fail bot"))
	require.Len(t, *replies, 1)
	assert.Contains(t, (*replies)[0], "Nuh-uh")
}

func TestModuleEnterWithEmptyTargetIsANoop(t *testing.T) {
	api, replies := newTestAPI(t, "bot", 1, 2)
	require.NoError(t, ModuleEnter(api, "net", "#chan", "alice", "fail "))
	assert.Empty(t, *replies)
}

func TestModuleEnterRepliesMentioningTheTarget(t *testing.T) {
	api, replies := newTestAPI(t, "bot", 1, 2)
	require.NoError(t, ModuleEnter(api, "net", "#chan", "alice", "fail bob"))
	require.Len(t, *replies, 1)
	assert.Contains(t, (*replies)[0], "bob")
	assert.Contains(t, (*replies)[0], "alice:")
}
