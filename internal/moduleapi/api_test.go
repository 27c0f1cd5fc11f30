package moduleapi

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ircbotd/internal/access"
	"github.com/oriys/ircbotd/internal/gcarena"
	"github.com/oriys/ircbotd/internal/regexcache"
	"github.com/oriys/ircbotd/internal/rng"
	"github.com/oriys/ircbotd/internal/store"
)

func newTestAPI(t *testing.T) (*API, *[]string) {
	t.Helper()
	db, err := store.Create(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var said []string
	say := func(target, text string) { said = append(said, target+": "+text) }
	action := func(target, text string) { said = append(said, "ACTION "+target+": "+text) }

	src := rng.NewRegistry(func() (uint64, uint64) { return 7, 11 }).For("test")
	arena := gcarena.New()
	t.Cleanup(arena.Release)

	api := New("net", "#chan", "alice", "bot", db, access.New(db), regexcache.New(), src, arena, say, action)
	return api, &said
}

func TestReplyTargetsTheInvokingChannel(t *testing.T) {
	api, said := newTestAPI(t)
	api.Reply("hello there")
	require.Len(t, *said, 1)
	assert.Equal(t, "#chan: hello there", (*said)[0])
}

func TestActionForwardsToTheActionCallback(t *testing.T) {
	api, said := newTestAPI(t)
	api.Action("#chan", "dances")
	require.Len(t, *said, 1)
	assert.Equal(t, "ACTION #chan: dances", (*said)[0])
}

func TestMatchStringAndFindSubmatch(t *testing.T) {
	api, _ := newTestAPI(t)

	ok, err := api.MatchString(`^fail (\w+)$`, "fail bob")
	require.NoError(t, err)
	assert.True(t, ok)

	groups, err := api.FindSubmatch(`^fail (\w+)$`, "fail bob")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "bob", groups[1])
}

func TestStoreAndAccessAreUsable(t *testing.T) {
	api, _ := newTestAPI(t)

	_, err := api.Store().Exec(`CREATE TABLE IF NOT EXISTS T (X TEXT)`, "")
	require.NoError(t, err)

	_, ok, err := api.Access().Level("#chan", "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreQueryRegistersRowsOnTheArena(t *testing.T) {
	api, _ := newTestAPI(t)

	_, err := api.Store().Exec(`CREATE TABLE IF NOT EXISTS T (X TEXT)`, "")
	require.NoError(t, err)
	_, err = api.Store().Exec(`INSERT INTO T (X) VALUES (?)`, "s", "hi")
	require.NoError(t, err)

	rows, err := api.Store().Query(`SELECT X FROM T`, "")
	require.NoError(t, err)
	assert.Equal(t, 1, api.arena.Len())

	// A module that abandons rows without closing it (the case a timed
	// out Job hits) still gets it closed once the arena is released.
	_ = rows
	api.arena.Release()
}

func TestIntnIsBoundedAndDeterministicPerSource(t *testing.T) {
	api, _ := newTestAPI(t)
	for i := 0; i < 20; i++ {
		v := api.Intn(5)
		assert.True(t, v >= 0 && v < 5)
	}

	// Two sources seeded alike draw the same sequence.
	a, _ := newTestAPI(t)
	b, _ := newTestAPI(t)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Intn(5), b.Intn(5))
	}
}
