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

func newTestAPI(t *testing.T) (*moduleapi.API, *[]string) {
	t.Helper()
	db, err := store.Create(filepath.Join(t.TempDir(), "dance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var actions []string
	say := func(target, text string) {}
	action := func(target, text string) { actions = append(actions, target+": "+text) }

	src := rng.NewRegistry(func() (uint64, uint64) { return 3, 5 }).For("dance")
	arena := gcarena.New()
	t.Cleanup(arena.Release)

	api := moduleapi.New("net", "#chan", "alice", "bot", db, access.New(db), regexcache.New(), src, arena, say, action)
	return api, &actions
}

func TestModuleMatchRecognizesBareAndTargetedForm(t *testing.T) {
	assert.True(t, ModuleMatch("dance"))
	assert.True(t, ModuleMatch("dance bob"))
	assert.False(t, ModuleMatch("dancehall"))
	assert.False(t, ModuleMatch("something else"))
}

func TestModuleEnterWithNoTarget(t *testing.T) {
	api, actions := newTestAPI(t)
	require.NoError(t, ModuleEnter(api, "net", "#chan", "alice", "dance"))
	require.Len(t, *actions, 1)
	assert.Contains(t, (*actions)[0], "dances like a jolly idiot")
}

func TestModuleEnterWithTarget(t *testing.T) {
	api, actions := newTestAPI(t)
	require.NoError(t, ModuleEnter(api, "net", "#chan", "alice", "dance bob"))
	require.Len(t, *actions, 1)
	assert.Contains(t, (*actions)[0], "gives bob a lap dance")
}
