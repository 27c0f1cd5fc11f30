package access

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ircbotd/internal/store"
)

func newTestControl(t *testing.T) *Control {
	t.Helper()
	db, err := store.Create(filepath.Join(t.TempDir(), "access.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestInsertRequiresAnExistingInvoker(t *testing.T) {
	c := newTestControl(t)

	result, err := c.Insert("#chan", "nobody", "newguy", 1)
	require.NoError(t, err)
	assert.Equal(t, NoExistInvoker, result)
}

func TestInsertRequiresInvokerAtOrAboveAccessControl(t *testing.T) {
	c := newTestControl(t)
	_, err := c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "mod", int64(AccessControl-1))
	require.NoError(t, err)

	result, err := c.Insert("#chan", "mod", "newguy", 1)
	require.NoError(t, err)
	assert.Equal(t, Denied, result)
}

func TestInsertRejectsGrantingAboveInvokerLevel(t *testing.T) {
	c := newTestControl(t)
	_, err := c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "mod", int64(AccessControl))
	require.NoError(t, err)

	result, err := c.Insert("#chan", "mod", "newguy", AccessControl+1)
	require.NoError(t, err)
	assert.Equal(t, Denied, result)
}

func TestInsertRejectsOutOfRangeLevel(t *testing.T) {
	c := newTestControl(t)
	_, err := c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "owner", int64(MaxLevel))
	require.NoError(t, err)

	result, err := c.Insert("#chan", "owner", "newguy", MinLevel-1)
	require.NoError(t, err)
	assert.Equal(t, BadRange, result)
}

func TestInsertSucceedsAndIsIdempotentlyRejectedOnExists(t *testing.T) {
	c := newTestControl(t)
	_, err := c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "owner", int64(MaxLevel))
	require.NoError(t, err)

	result, err := c.Insert("#chan", "owner", "newguy", 1)
	require.NoError(t, err)
	assert.Equal(t, Success, result)

	level, ok, err := c.Level("#chan", "newguy")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, level)

	result, err = c.Insert("#chan", "owner", "newguy", 2)
	require.NoError(t, err)
	assert.Equal(t, Exists, result)
}

func TestRemoveRejectsRemovingAnEqualOrSeniorTarget(t *testing.T) {
	c := newTestControl(t)
	_, err := c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "mod", int64(AccessControl))
	require.NoError(t, err)
	_, err = c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "owner", int64(AccessControl))
	require.NoError(t, err)

	result, err := c.Remove("#chan", "mod", "owner")
	require.NoError(t, err)
	assert.Equal(t, Denied, result)
}

func TestChangeUpdatesAJuniorTargetsLevel(t *testing.T) {
	c := newTestControl(t)
	_, err := c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "owner", int64(MaxLevel))
	require.NoError(t, err)
	_, err = c.db.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "user", int64(1))
	require.NoError(t, err)

	result, err := c.Change("#chan", "owner", "user", 3)
	require.NoError(t, err)
	assert.Equal(t, Success, result)

	level, ok, err := c.Level("#chan", "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, level)
}

func TestIgnoreAndShitlistSentinels(t *testing.T) {
	assert.True(t, Ignore(-1))
	assert.False(t, Ignore(0))
	assert.True(t, Shitlist(-2))
	assert.False(t, Shitlist(-1))
	assert.True(t, Range(4, 4))
	assert.False(t, Range(3, 4))
}
