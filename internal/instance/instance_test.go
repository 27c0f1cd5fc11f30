package instance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/ircbotd/internal/cmdchannel"
)

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := New(Config{
		Name:         "test",
		Nick:         "bot",
		DatabasePath: filepath.Join(t.TempDir(), "test.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close() })
	return inst
}

func TestHandleLineRepliesToPing(t *testing.T) {
	inst := newTestInstance(t)
	inst.HandleLine("PING :hello")
	lines := inst.Outbound().Drain()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "PONG")
	assert.Contains(t, lines[0], "hello")
}

func TestHandleLineAppendsUnderscoreOnNickCollision(t *testing.T) {
	inst := newTestInstance(t)
	inst.HandleLine(":server 433 * bot :Nickname is already in use")
	assert.Equal(t, "bot_", inst.Nick())

	lines := inst.Outbound().Drain()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "NICK")
	assert.Contains(t, lines[0], "bot_")
}

func TestHandlePrivmsgDispatchesChannelMessagesOnly(t *testing.T) {
	inst := newTestInstance(t)

	var gotChannel, gotUser, gotMessage string
	calls := 0
	inst.Dispatch = func(i *Instance, channel, user, message string) {
		calls++
		gotChannel, gotUser, gotMessage = channel, user, message
	}

	// direct message: not a channel, must not dispatch
	inst.HandleLine(":alice!a@host PRIVMSG bot :hi there")
	assert.Equal(t, 0, calls)

	inst.HandleLine(":alice!a@host PRIVMSG #chan :dance")
	assert.Equal(t, 1, calls)
	assert.Equal(t, "#chan", gotChannel)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, "dance", gotMessage)
}

func TestHandlePrivmsgSkipsIgnoredNicks(t *testing.T) {
	inst := newTestInstance(t)
	_, err := inst.Store.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "quiet", int64(-1))
	require.NoError(t, err)

	calls := 0
	inst.Dispatch = func(i *Instance, channel, user, message string) { calls++ }

	inst.HandleLine(":quiet!q@host PRIVMSG #chan :dance")
	assert.Equal(t, 0, calls)
}

func TestHandleJoinKicksAShitlistedNick(t *testing.T) {
	inst := newTestInstance(t)
	inst.Join("#chan")
	inst.Outbound().Drain() // discard the JOIN line queued by inst.Join

	_, err := inst.Store.Exec(`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`, "ssi", "#chan", "spammer", int64(-2))
	require.NoError(t, err)

	inst.HandleLine(":spammer!s@host JOIN #chan")

	lines := inst.Outbound().Drain()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "KICK")
	assert.Contains(t, lines[0], "spammer")
	assert.Contains(t, lines[0], "you are banned")

	cs, ok := inst.channels.Get("#chan")
	require.True(t, ok)
	_, present := cs.Members.Get("spammer")
	assert.False(t, present)
}

func TestBindAndUnbindAllStopsTheWorker(t *testing.T) {
	inst := newTestInstance(t)
	inst.Join("#chan")

	binding := inst.Bind("#chan", "dance", nil, time.Second)
	require.NotNil(t, binding)

	bindings := inst.Bindings("#chan")
	require.NotNil(t, bindings)
	_, ok := bindings.Get("dance")
	assert.True(t, ok)

	inst.UnbindAll("dance")
	_, ok = inst.Bindings("#chan").Get("dance")
	assert.False(t, ok)

	job := cmdchannel.NewJob("test", "#chan", "alice", "dance", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, binding.Worker.Enqueue(job), cmdchannel.ErrChannelClosed)
}

func TestNewReportsConfiguredNameAndNick(t *testing.T) {
	dir := t.TempDir()
	inst, err := New(Config{
		Name:         "other",
		Nick:         "bot2",
		DatabasePath: filepath.Join(dir, "other.db"),
	}, nil)
	require.NoError(t, err)
	defer inst.Close()
	assert.Equal(t, "other", inst.Name())
	assert.Equal(t, "bot2", inst.Nick())
}
