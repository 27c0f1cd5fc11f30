// Package moduleapi implements C13: the curated capability surface
// handed to a module's ModuleEnter call. Modules never see the
// Instance, Store, or plugin Loader types directly — only this façade,
// so every resource a module call opens (a query cursor, an HTTP response
// body) can be registered against the call's gcarena.Arena and
// released the moment the Job ends, on every exit path including a
// timeout or a recovered panic.
package moduleapi

import (
	"database/sql"
	"io"
	"net/http"
	"time"

	"github.com/oriys/ircbotd/internal/access"
	"github.com/oriys/ircbotd/internal/gcarena"
	"github.com/oriys/ircbotd/internal/regexcache"
	"github.com/oriys/ircbotd/internal/rng"
	"github.com/oriys/ircbotd/internal/store"
)

// API is the concrete value passed as the "api any" argument to a
// module's Enter entrypoint.
type API struct {
	InstanceName string
	Channel      string
	User         string
	Nick         string

	db    *store.Store
	acl   *access.Control
	regex *regexcache.Cache
	rng   *rng.Source
	arena *gcarena.Arena

	say    func(target, text string)
	action func(target, text string)
}

// New constructs an API bound to one Job's arena.
func New(instanceName, channel, user, nick string, db *store.Store, acl *access.Control, regex *regexcache.Cache, rngSrc *rng.Source, arena *gcarena.Arena, say, action func(target, text string)) *API {
	return &API{
		InstanceName: instanceName,
		Channel:      channel,
		User:         user,
		Nick:         nick,
		db:           db,
		acl:          acl,
		regex:        regex,
		rng:          rngSrc,
		arena:        arena,
		say:          say,
		action:       action,
	}
}

// Say sends a PRIVMSG to target through the instance's outbound queue.
func (a *API) Say(target, text string) { a.say(target, text) }

// Reply is shorthand for Say(a.Channel, text).
func (a *API) Reply(text string) { a.say(a.Channel, text) }

// Action sends a CTCP ACTION to target.
func (a *API) Action(target, text string) { a.action(target, text) }

// Store exposes the instance's SQL store façade (C2) wrapped so that a
// module's Query cursor gets tracked on this call's arena: if the Job
// times out or panics before the module's own defer Close runs, the
// arena's release still closes it, rather than leaking one of the
// Store's pooled connections.
func (a *API) Store() *TrackedStore { return &TrackedStore{db: a.db, arena: a.arena} }

// TrackedStore wraps store.Store's query path so a module can't leak a
// result cursor past the Job that opened it.
type TrackedStore struct {
	db    *store.Store
	arena *gcarena.Arena
}

// Exec runs text (a statement from the cache) against bound args.
func (t *TrackedStore) Exec(text, mapping string, args ...any) (sql.Result, error) {
	return t.db.Exec(text, mapping, args...)
}

// Query runs text against bound args and registers the returned Rows on
// this call's arena, so Rows.Close still runs even if the module never
// reaches its own defer — most notably when the Job times out and its
// goroutine is abandoned rather than waited on.
func (t *TrackedStore) Query(text, mapping string, args ...any) (*store.Rows, error) {
	rows, err := t.db.Query(text, mapping, args...)
	if err != nil {
		return nil, err
	}
	t.arena.Track(func() { rows.Close() })
	return rows, nil
}

// Path returns the store's database file path.
func (t *TrackedStore) Path() string { return t.db.Path() }

// Request increments table's request counter (C2's usage-stats table).
func (t *TrackedStore) Request(table string) error { return t.db.Request(table) }

// RequestCount returns table's current request count.
func (t *TrackedStore) RequestCount(table string) (int64, error) { return t.db.RequestCount(table) }

// Access exposes the instance's access control (C11).
func (a *API) Access() *access.Control { return a.acl }

// MatchString compiles (or reuses) pattern and reports whether s
// matches it.
func (a *API) MatchString(pattern, s string) (bool, error) {
	return a.regex.MatchString(pattern, s)
}

// FindSubmatch compiles (or reuses) pattern and returns its first match
// in s.
func (a *API) FindSubmatch(pattern, s string) ([]string, error) {
	return a.regex.FindStringSubmatch(pattern, s)
}

// Intn returns a pseudo-random int in [0, n) from this module's private
// PRNG.
func (a *API) Intn(n int) int { return a.rng.Intn(n) }

// Float64 returns a pseudo-random float64 in [0, 1).
func (a *API) Float64() float64 { return a.rng.Float64() }

// Fetch retrieves url's body over HTTP(S), bounded to maxBytes and
// registered in the call's arena so a slow or oversized response cannot
// outlive the Job that requested it.
func (a *API) Fetch(url string, maxBytes int64) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	a.arena.Track(func() { resp.Body.Close() })
	defer resp.Body.Close()

	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBytes))
}
