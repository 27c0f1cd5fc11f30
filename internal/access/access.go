// Package access implements C11: per-channel access control backed by
// the ACCESS(CHANNEL, NAME, ACCESS) table in each instance's store (C2).
// Levels run -2..6; -2 is the shitlist, -1 is ignore, 0 is an
// unprivileged but otherwise unremarkable user, and ACCESS_CONTROL (4)
// is the level required to administer other entries at all.
package access

import (
	"errors"
	"fmt"

	"github.com/oriys/ircbotd/internal/metrics"
	"github.com/oriys/ircbotd/internal/store"
)

// AccessControl is the minimum level required to insert, remove, or
// change another entry's level.
const AccessControl = 4

// MinLevel and MaxLevel bound the levels Insert/Change will accept.
const (
	MinLevel = -2
	MaxLevel = 6
)

// Result is the small verdict enum every operation returns.
type Result int

const (
	Success Result = iota
	Failed
	Denied
	NoExistTarget
	NoExistInvoker
	Exists
	BadRange
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Denied:
		return "denied"
	case NoExistTarget:
		return "no-exist-target"
	case NoExistInvoker:
		return "no-exist-invoker"
	case Exists:
		return "exists"
	case BadRange:
		return "bad-range"
	default:
		return "unknown"
	}
}

// Control mediates access-control reads and writes against one
// instance's store.
type Control struct {
	db *store.Store
}

// New wraps db as an access Control.
func New(db *store.Store) *Control {
	return &Control{db: db}
}

// Level returns name's level on channel. The bool is false if name has
// no entry (callers should treat that as level 0 for read-only checks,
// but privileged operations below require an explicit invoker entry).
func (c *Control) Level(channel, name string) (int, bool, error) {
	rows, err := c.db.Query(
		`SELECT ACCESS FROM ACCESS WHERE CHANNEL = ? AND NAME = ?`,
		"ss", channel, name,
	)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, nil
	}
	vals, err := rows.Extract("i")
	if err != nil {
		return 0, false, err
	}
	return int(vals[0].(int64)), true, nil
}

// Ignore reports whether level is the ignore level (-1).
func Ignore(level int) bool { return level == -1 }

// Shitlist reports whether level is the shitlist level (-2).
func Shitlist(level int) bool { return level == -2 }

// Range reports whether level is at least min.
func Range(level, min int) bool { return level >= min }

// Insert grants target a new entry at level on channel, authorized by
// invoker's own entry.
func (c *Control) Insert(channel, invoker, target string, level int) (Result, error) {
	invokerLevel, ok, err := c.Level(channel, invoker)
	if err != nil {
		return Failed, err
	}
	if !ok {
		c.denied()
		return NoExistInvoker, nil
	}
	if invokerLevel < AccessControl {
		c.denied()
		return Denied, nil
	}
	if level > invokerLevel {
		c.denied()
		return Denied, nil
	}
	if level < MinLevel || level > MaxLevel {
		return BadRange, nil
	}

	_, ok, err = c.Level(channel, target)
	if err != nil {
		return Failed, err
	}
	if ok {
		return Exists, nil
	}

	if _, err := c.db.Exec(
		`INSERT INTO ACCESS (CHANNEL, NAME, ACCESS) VALUES (?, ?, ?)`,
		"ssi", channel, target, int64(level),
	); err != nil {
		return Failed, err
	}
	return Success, nil
}

// Remove deletes target's entry on channel, authorized by invoker.
func (c *Control) Remove(channel, invoker, target string) (Result, error) {
	invokerLevel, ok, err := c.Level(channel, invoker)
	if err != nil {
		return Failed, err
	}
	if !ok {
		c.denied()
		return NoExistInvoker, nil
	}
	if invokerLevel < AccessControl {
		c.denied()
		return Denied, nil
	}

	targetLevel, ok, err := c.Level(channel, target)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return NoExistTarget, nil
	}
	if targetLevel >= invokerLevel {
		c.denied()
		return Denied, nil
	}

	if _, err := c.db.Exec(
		`DELETE FROM ACCESS WHERE CHANNEL = ? AND NAME = ?`,
		"ss", channel, target,
	); err != nil {
		return Failed, err
	}
	return Success, nil
}

// Change updates target's level on channel to level, authorized by
// invoker. The same seniority rules as Insert/Remove apply.
func (c *Control) Change(channel, invoker, target string, level int) (Result, error) {
	invokerLevel, ok, err := c.Level(channel, invoker)
	if err != nil {
		return Failed, err
	}
	if !ok {
		c.denied()
		return NoExistInvoker, nil
	}
	if invokerLevel < AccessControl {
		c.denied()
		return Denied, nil
	}
	if level > invokerLevel {
		c.denied()
		return Denied, nil
	}
	if level < MinLevel || level > MaxLevel {
		return BadRange, nil
	}

	targetLevel, ok, err := c.Level(channel, target)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return NoExistTarget, nil
	}
	if targetLevel >= invokerLevel {
		c.denied()
		return Denied, nil
	}

	if _, err := c.db.Exec(
		`UPDATE ACCESS SET ACCESS = ? WHERE CHANNEL = ? AND NAME = ?`,
		"iss", int64(level), channel, target,
	); err != nil {
		return Failed, err
	}
	return Success, nil
}

// Check reports whether invoker is authorized to administer target on
// channel, without making any change.
func (c *Control) Check(channel, invoker, target string) (Result, error) {
	invokerLevel, ok, err := c.Level(channel, invoker)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return NoExistInvoker, nil
	}
	if invokerLevel < AccessControl {
		return Denied, nil
	}

	targetLevel, ok, err := c.Level(channel, target)
	if err != nil {
		return Failed, err
	}
	if !ok {
		return NoExistTarget, nil
	}
	if targetLevel >= invokerLevel {
		return Denied, nil
	}
	return Success, nil
}

func (c *Control) denied() {
	metrics.Global().RecordAccessDenial()
}

// ErrNotFound is returned by callers that need a sentinel for "no entry",
// distinct from a genuine query failure.
var ErrNotFound = errors.New("access: no entry")

// MustLevel is a convenience for callers that already know an entry
// should exist (e.g. after Insert returned Success) and want a plain
// error instead of the (int, bool, error) triple.
func (c *Control) MustLevel(channel, name string) (int, error) {
	level, ok, err := c.Level(channel, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrNotFound, name, channel)
	}
	return level, nil
}
