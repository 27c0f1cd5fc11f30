// Package instance implements C7: one live IRC network connection, its
// channel/user/topic state, NickServ auth, and the dispatch of incoming
// channel messages to the command channels (C10) of whichever modules
// are bound to that channel.
package instance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oriys/ircbotd/internal/access"
	"github.com/oriys/ircbotd/internal/circuitbreaker"
	"github.com/oriys/ircbotd/internal/cmdchannel"
	"github.com/oriys/ircbotd/internal/container"
	"github.com/oriys/ircbotd/internal/ircwire"
	"github.com/oriys/ircbotd/internal/logging"
	"github.com/oriys/ircbotd/internal/plugin"
	"github.com/oriys/ircbotd/internal/store"
	"github.com/oriys/ircbotd/internal/transport"
)

// ChannelState tracks one joined channel's topic, membership, and the
// last PRIVMSG seen on it, which "always" modules (negative Interval —
// see multiplex.fireIntervals) run against on every tick.
type ChannelState struct {
	Name        string
	Topic       string
	Members     *container.OrderedMap[string, string] // nick -> prefix (@, +, "")
	LastMessage string
	LastSender  string
}

// ModuleBinding is one channel's attachment of one module, each with its
// own command channel worker so the channel's modules never block each
// other.
type ModuleBinding struct {
	Module string
	Worker *cmdchannel.Channel
	Entry  *plugin.Module
}

// Config holds the fields instance.New needs from the per-network INI
// section (see internal/config/ini).
type Config struct {
	Name           string
	Nick           string
	Pattern        string
	Host           string
	Port           int
	SSL            bool
	AuthSecret     string
	DatabasePath   string
	Resolver       string
	CommandTimeout time.Duration
	FloodLines     int
	FloodInterval  time.Duration
}

// Instance is one configured IRC network: its connection, channel set,
// store, and access control.
type Instance struct {
	cfg   Config
	conn  *transport.Conn
	out   *ircwire.OutboundQueue
	Store *store.Store
	Acl   *access.Control

	currentNick string
	identified  bool
	identifyTry int

	channels *container.OrderedMap[string, *ChannelState]
	bindings *container.OrderedMap[string, *container.OrderedMap[string, *ModuleBinding]]

	reconnect *circuitbreaker.Breaker

	// Dispatch is called for every PRIVMSG that might be a command,
	// supplied by the daemon wiring so Instance does not need to import
	// the plugin loader or module API directly.
	Dispatch func(inst *Instance, channel, user, message string)

	// FireInterval is called by the multiplexer (C12) for every bound
	// module whose match token is empty: a fixed-period module gets an
	// empty message on every elapsed tick, while an "always" module
	// (Entrypoints.IsAlways) gets the channel's last inbound message and
	// its sender, taken and cleared by TakeLastMessage so it cannot
	// re-fire on the same text next tick.
	FireInterval func(inst *Instance, channel string, binding *ModuleBinding, message, user string)
}

// New opens the instance's store and constructs its in-memory state. It
// does not connect — call Connect for that.
func New(cfg Config, breakers *circuitbreaker.Registry) (*Instance, error) {
	db, err := store.Create(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", cfg.Name, err)
	}

	inst := &Instance{
		cfg:         cfg,
		currentNick: cfg.Nick,
		Store:       db,
		Acl:         access.New(db),
		channels:    container.NewOrderedMap[string, *ChannelState](),
		bindings:    container.NewOrderedMap[string, *container.OrderedMap[string, *ModuleBinding]](),
		out: ircwire.NewOutboundQueue(
			orDefault(cfg.FloodLines, 4),
			orDefaultDuration(cfg.FloodInterval, time.Second),
		),
	}
	if breakers != nil {
		inst.reconnect = breakers.Get(cfg.Name, circuitbreaker.Config{
			ErrorPct:       50,
			WindowDuration: time.Minute,
			OpenDuration:   30 * time.Second,
			HalfOpenProbes: 1,
		})
	}
	return inst, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Close releases the instance's store and connection.
func (inst *Instance) Close() error {
	if inst.conn != nil {
		inst.conn.Close()
	}
	return inst.Store.Close()
}

// Connect dials the network and sends the NICK/USER handshake.
func (inst *Instance) Connect(ctx context.Context) error {
	if inst.reconnect != nil && !inst.reconnect.Allow() {
		return fmt.Errorf("instance %s: reconnect breaker open", inst.cfg.Name)
	}

	resolver := inst.cfg.Resolver
	if resolver == "" {
		resolver = "1.1.1.1:53"
	}
	conn, err := transport.Dial(ctx, resolver, inst.cfg.Host, inst.cfg.Port, inst.cfg.SSL, "")
	if err != nil {
		if inst.reconnect != nil {
			inst.reconnect.RecordFailure()
		}
		return err
	}
	inst.conn = conn
	if inst.reconnect != nil {
		inst.reconnect.RecordSuccess()
	}

	inst.out.Enqueue("NICK", inst.currentNick)
	inst.out.Enqueue("USER", inst.currentNick, "localhost", "0", inst.currentNick)
	return nil
}

// Reattach installs a connection inherited from a prior process
// generation (see transport.Reattach), skipping the NICK/USER handshake
// since the remote side already completed it with the old generation.
func (inst *Instance) Reattach(conn *transport.Conn) {
	inst.conn = conn
}

// Disconnect closes the live connection, if any, and clears it so the
// multiplexer stops polling it until a later Connect call succeeds.
func (inst *Instance) Disconnect() {
	if inst.conn != nil {
		inst.conn.Close()
		inst.conn = nil
	}
	inst.identified = false
	inst.identifyTry = 0
}

// Name returns the instance's configured network name.
func (inst *Instance) Name() string { return inst.cfg.Name }

// Nick returns the bot's current nick on this network, which may differ
// from the configured one after a 433 collision retry.
func (inst *Instance) Nick() string { return inst.currentNick }

// Conn returns the live connection, or nil if not yet connected.
func (inst *Instance) Conn() *transport.Conn { return inst.conn }

// Outbound returns the instance's outbound queue, drained by the
// multiplexer (C12) on every poll tick.
func (inst *Instance) Outbound() *ircwire.OutboundQueue { return inst.out }

// Say queues a PRIVMSG to target, rewriting any colour/style tags first.
func (inst *Instance) Say(target, text string) {
	inst.out.Enqueue("PRIVMSG", target, ircwire.RewriteColors(text))
}

// Action queues a CTCP ACTION to target.
func (inst *Instance) Action(target, text string) {
	inst.out.Enqueue("PRIVMSG", target, "\x01ACTION "+ircwire.RewriteColors(text)+"\x01")
}

// Notice queues a NOTICE to target, used to privately tell a sender
// their command wasn't found rather than answering in the channel.
func (inst *Instance) Notice(target, text string) {
	inst.out.Enqueue("NOTICE", target, text)
}

// Join queues a JOIN for channel and registers its local state.
func (inst *Instance) Join(channel string) {
	inst.out.Enqueue("JOIN", channel)
	if _, ok := inst.channels.Get(channel); !ok {
		inst.channels.Set(channel, &ChannelState{
			Name:    channel,
			Members: container.NewOrderedMap[string, string](),
		})
	}
}

// Part queues a PART for channel.
func (inst *Instance) Part(channel, reason string) {
	if reason == "" {
		inst.out.Enqueue("PART", channel)
	} else {
		inst.out.Enqueue("PART", channel, reason)
	}
	inst.channels.Delete(channel)
}

// Kick queues a KICK for target on channel with the given reason.
func (inst *Instance) Kick(channel, target, reason string) {
	inst.out.Enqueue("KICK", channel, target, reason)
}

// Bind attaches module to channel with its own command-channel worker.
func (inst *Instance) Bind(channel, module string, mod *plugin.Module, timeout time.Duration) *ModuleBinding {
	perChan, ok := inst.bindings.Get(channel)
	if !ok {
		perChan = container.NewOrderedMap[string, *ModuleBinding]()
		inst.bindings.Set(channel, perChan)
	}
	worker := cmdchannel.New(module, timeout)
	worker.Start()
	binding := &ModuleBinding{Module: module, Worker: worker, Entry: mod}
	perChan.Set(module, binding)
	return binding
}

// Rebind points every channel's binding for module at the freshly
// reloaded mod, leaving each channel's command-channel worker (and its
// queued jobs) running undisturbed.
func (inst *Instance) Rebind(module string, mod *plugin.Module) {
	inst.bindings.Range(func(channel string, perChan *container.OrderedMap[string, *ModuleBinding]) bool {
		if b, ok := perChan.Get(module); ok {
			b.Entry = mod
		}
		return true
	})
}

// UnbindAll stops module's worker on every channel it is bound to and
// removes the binding.
func (inst *Instance) UnbindAll(module string) {
	inst.bindings.Range(func(channel string, perChan *container.OrderedMap[string, *ModuleBinding]) bool {
		if b, ok := perChan.Get(module); ok {
			b.Worker.Stop()
			perChan.Delete(module)
		}
		return true
	})
}

// Unbind stops module's worker on channel and removes the binding.
func (inst *Instance) Unbind(channel, module string) {
	perChan, ok := inst.bindings.Get(channel)
	if !ok {
		return
	}
	if b, ok := perChan.Get(module); ok {
		b.Worker.Stop()
		perChan.Delete(module)
	}
}

// Bindings returns channel's module bindings, or nil if none.
func (inst *Instance) Bindings(channel string) *container.OrderedMap[string, *ModuleBinding] {
	perChan, _ := inst.bindings.Get(channel)
	return perChan
}

// AllBindings returns every channel's binding map, for the multiplexer's
// interval sweep.
func (inst *Instance) AllBindings() *container.OrderedMap[string, *container.OrderedMap[string, *ModuleBinding]] {
	return inst.bindings
}

// TakeLastMessage returns and clears channel's last PRIVMSG and its
// sender, for an "always" module's tick. ok is false if channel isn't
// joined or has seen no message since the last take.
func (inst *Instance) TakeLastMessage(channel string) (message, sender string, ok bool) {
	cs, found := inst.channels.Get(channel)
	if !found || cs.LastMessage == "" {
		return "", "", false
	}
	message, sender = cs.LastMessage, cs.LastSender
	cs.LastMessage = ""
	cs.LastSender = ""
	return message, sender, true
}

// HandleLine parses one wire line and updates local state / dispatches
// to bound modules as appropriate.
func (inst *Instance) HandleLine(line string) {
	msg, err := ircwire.ParseLine(line)
	if err != nil {
		logging.Op().Debug("ircwire: unparsable line", "instance", inst.cfg.Name, "error", err)
		return
	}

	switch msg.Command {
	case "PING":
		inst.out.Enqueue("PONG", msg.Trailing)
	case "001":
		// Welcome: safe to join configured channels and identify.
		if inst.cfg.AuthSecret != "" {
			inst.identify()
		}
	case "433":
		inst.currentNick += "_"
		inst.out.Enqueue("NICK", inst.currentNick)
	case "NOTICE":
		inst.handleNotice(msg)
	case "353":
		inst.handleNames(msg)
	case "JOIN":
		inst.handleJoin(msg)
	case "PART":
		inst.handlePart(msg)
	case "KICK":
		inst.handleKick(msg)
	case "PRIVMSG":
		inst.handlePrivmsg(msg)
	}
}

func (inst *Instance) identify() {
	inst.identifyTry++
	inst.out.Enqueue("PRIVMSG", "NickServ", fmt.Sprintf("IDENTIFY %s %s", inst.currentNick, inst.cfg.AuthSecret))
}

// handleNotice retries IDENTIFY once on a NickServ failure notice, the
// supplemented auth-retry behavior original_source's irc.c implements.
func (inst *Instance) handleNotice(msg *ircwire.Message) {
	if !strings.EqualFold(msg.Prefix, "nickserv") && !strings.Contains(strings.ToLower(msg.Prefix), "nickserv") {
		return
	}
	body := strings.ToLower(msg.Trailing)
	if strings.Contains(body, "identified") || strings.Contains(body, "recognized") {
		inst.identified = true
		return
	}
	if (strings.Contains(body, "incorrect") || strings.Contains(body, "denied")) && inst.identifyTry < 2 {
		inst.identify()
	}
}

func (inst *Instance) handleNames(msg *ircwire.Message) {
	if len(msg.Params) < 3 {
		return
	}
	channel := msg.Params[2]
	cs, ok := inst.channels.Get(channel)
	if !ok {
		cs = &ChannelState{Name: channel, Members: container.NewOrderedMap[string, string]()}
		inst.channels.Set(channel, cs)
	}
	for _, nick := range strings.Fields(msg.Trailing) {
		prefix := ""
		if len(nick) > 0 && (nick[0] == '@' || nick[0] == '+') {
			prefix = nick[:1]
			nick = nick[1:]
		}
		cs.Members.Set(nick, prefix)
	}
}

func (inst *Instance) handleJoin(msg *ircwire.Message) {
	if len(msg.Params) == 0 {
		return
	}
	channel := msg.Params[0]
	nick := nickFromPrefix(msg.Prefix)
	cs, ok := inst.channels.Get(channel)
	if !ok {
		return
	}

	if level, ok, _ := inst.Acl.Level(channel, nick); ok && access.Shitlist(level) {
		inst.Kick(channel, nick, "you are banned")
		return
	}

	cs.Members.Set(nick, "")
}

func (inst *Instance) handlePart(msg *ircwire.Message) {
	if len(msg.Params) == 0 {
		return
	}
	channel := msg.Params[0]
	nick := nickFromPrefix(msg.Prefix)
	if cs, ok := inst.channels.Get(channel); ok {
		cs.Members.Delete(nick)
	}
}

func (inst *Instance) handleKick(msg *ircwire.Message) {
	if len(msg.Params) < 2 {
		return
	}
	channel, target := msg.Params[0], msg.Params[1]
	if cs, ok := inst.channels.Get(channel); ok {
		cs.Members.Delete(target)
	}
}

func (inst *Instance) handlePrivmsg(msg *ircwire.Message) {
	if len(msg.Params) == 0 {
		return
	}
	target := msg.Params[0]
	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		return // direct message; core dispatch only covers channels
	}
	nick := nickFromPrefix(msg.Prefix)

	if cs, ok := inst.channels.Get(target); ok {
		cs.LastMessage = msg.Trailing
		cs.LastSender = nick
	}

	if level, ok, _ := inst.Acl.Level(target, nick); ok && access.Ignore(level) {
		return
	}

	command, ok := stripPattern(inst.cfg.Pattern, msg.Trailing)
	if !ok {
		return
	}

	if inst.Dispatch != nil {
		inst.Dispatch(inst, target, nick, command)
	}
}

// stripPattern removes pattern from the start of text, reporting false
// if text doesn't carry it. An empty pattern always matches and leaves
// text untouched, so instances with no configured command prefix keep
// dispatching on bare command words.
func stripPattern(pattern, text string) (string, bool) {
	if pattern == "" {
		return text, true
	}
	if !strings.HasPrefix(text, pattern) {
		return "", false
	}
	return text[len(pattern):], true
}

func nickFromPrefix(prefix string) string {
	if i := strings.IndexByte(prefix, '!'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}
