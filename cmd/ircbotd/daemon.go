package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oriys/ircbotd/internal/access"
	"github.com/oriys/ircbotd/internal/circuitbreaker"
	"github.com/oriys/ircbotd/internal/cmdchannel"
	"github.com/oriys/ircbotd/internal/config"
	"github.com/oriys/ircbotd/internal/config/ini"
	"github.com/oriys/ircbotd/internal/control"
	"github.com/oriys/ircbotd/internal/gcarena"
	"github.com/oriys/ircbotd/internal/instance"
	"github.com/oriys/ircbotd/internal/logging"
	"github.com/oriys/ircbotd/internal/moduleapi"
	"github.com/oriys/ircbotd/internal/multiplex"
	"github.com/oriys/ircbotd/internal/plugin"
	"github.com/oriys/ircbotd/internal/regexcache"
	"github.com/oriys/ircbotd/internal/rng"
	"github.com/oriys/ircbotd/internal/transport"
)

// daemon holds every long-lived collaborator the run command wires
// together: one Instance, Loader, and rng.Registry per configured
// network, a shared regex cache, and the poll multiplexer that drives
// them all.
type daemon struct {
	cfg *config.Config
	doc *ini.Document

	breakers *circuitbreaker.Registry
	regex    *regexcache.Cache
	mux      *multiplex.Multiplexer

	loaders   map[string]*plugin.Loader
	instances map[string]*instance.Instance

	reattached map[string]*transport.Conn
}

func newDaemon(cfg *config.Config, doc *ini.Document) (*daemon, error) {
	mux, err := multiplex.New(250 * time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("daemon: multiplex: %w", err)
	}

	return &daemon{
		cfg:        cfg,
		doc:        doc,
		breakers:   circuitbreaker.NewRegistry(),
		regex:      regexcache.New(),
		mux:        mux,
		loaders:    make(map[string]*plugin.Loader),
		instances:  make(map[string]*instance.Instance),
		reattached: parseRestartFDs(),
	}, nil
}

// build constructs every Instance from d.doc, binds its configured
// channels and modules, and registers it with the multiplexer.
func (d *daemon) build() error {
	if err := os.MkdirAll(d.cfg.Store.Dir, 0o755); err != nil {
		return fmt.Errorf("daemon: store dir: %w", err)
	}

	for name, ic := range d.doc.Instances {
		dbPath := ic.Database
		if dbPath == "" {
			dbPath = filepath.Join(d.cfg.Store.Dir, name+".db")
		}

		cfg := instance.Config{
			Name:           ic.Name,
			Nick:           ic.Nick,
			Pattern:        ic.Pattern,
			Host:           ic.Host,
			Port:           ic.Port,
			SSL:            ic.SSL,
			AuthSecret:     ic.Auth,
			DatabasePath:   dbPath,
			CommandTimeout: time.Duration(d.cfg.CommandChannel.TimeoutSeconds) * time.Second,
			FloodLines:     d.cfg.Flood.Lines,
			FloodInterval:  d.cfg.Flood.IntervalDuration,
		}

		inst, err := instance.New(cfg, d.breakers)
		if err != nil {
			return fmt.Errorf("daemon: instance %s: %w", name, err)
		}

		loader := plugin.New(d.cfg.Plugins.Dir, d.cfg.Plugins.WhitelistStrict, inst.Store, newRNGRegistry())
		d.loaders[name] = loader

		if err := d.bindChannels(inst, loader, ic); err != nil {
			return err
		}

		inst.Dispatch = d.dispatch
		inst.FireInterval = d.fireInterval

		d.instances[name] = inst
		d.mux.Add(inst)
	}
	return nil
}

func (d *daemon) bindChannels(inst *instance.Instance, loader *plugin.Loader, ic *ini.InstanceConfig) error {
	for chName, chCfg := range ic.Channels {
		inst.Join(chName)

		names := chCfg.Modules
		if len(names) == 1 && names[0] == "*" {
			all, err := listPlugins(d.cfg.Plugins.Dir)
			if err != nil {
				return fmt.Errorf("daemon: list plugins: %w", err)
			}
			names = all
		}

		for _, modName := range names {
			mod, err := loader.Load(modName)
			if err != nil {
				logging.Op().Warn("daemon: module load failed", "instance", ic.Name, "channel", chName, "module", modName, "error", err)
				continue
			}
			inst.Bind(chName, mod.Entrypoints.Name(), mod, commandTimeout(d.cfg))
		}
	}
	return nil
}

func commandTimeout(cfg *config.Config) time.Duration {
	if cfg.CommandChannel.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(cfg.CommandChannel.TimeoutSeconds) * time.Second
}

func listPlugins(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".so") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".so"))
	}
	return names, nil
}

// dispatch is wired as every Instance's Dispatch callback: it finds the
// channel's bound modules whose Match reports true and enqueues one Job
// per match on that module's own command channel, so one slow module
// never blocks another bound to the same channel. message already has
// the instance's command-prefix pattern stripped off by the time it
// reaches here (see instance.handlePrivmsg). If nothing bound to the
// channel matches, the sender is told privately rather than in channel.
func (d *daemon) dispatch(inst *instance.Instance, channel, user, message string) {
	bindings := inst.Bindings(channel)
	if bindings == nil {
		return
	}
	matched := false
	bindings.Range(func(module string, binding *instance.ModuleBinding) bool {
		if binding.Entry == nil || binding.Entry.Unloaded() {
			return true
		}
		if !binding.Entry.Entrypoints.Match(message) {
			return true
		}
		matched = true
		d.invoke(inst, channel, user, module, binding, message, false)
		return true
	})
	if !matched {
		inst.Notice(user, fmt.Sprintf("no such command: %s", message))
	}
}

// fireInterval is wired as every Instance's FireInterval callback,
// invoked by the multiplexer (C12) on each bound module's tick: message
// and user are empty for a fixed-period module and carry the channel's
// last inbound message and its sender for an "always" module.
func (d *daemon) fireInterval(inst *instance.Instance, channel string, binding *instance.ModuleBinding, message, user string) {
	if binding.Entry == nil || binding.Entry.Unloaded() {
		return
	}
	d.invoke(inst, channel, user, binding.Module, binding, message, true)
}

func (d *daemon) invoke(inst *instance.Instance, channel, user, module string, binding *instance.ModuleBinding, message string, interval bool) {
	arena := gcarena.New()
	api := moduleapi.New(inst.Name(), channel, user, inst.Nick(), inst.Store, inst.Acl, d.regex, binding.Entry.RNG, arena, inst.Say, inst.Action)

	job := cmdchannel.NewJob(inst.Name(), channel, user, module, func(ctx context.Context) error {
		return binding.Entry.Entrypoints.Enter(api, inst.Name(), channel, user, message)
	})
	job.Interval = interval

	if err := binding.Worker.Enqueue(job); err != nil {
		arena.Release()
		logging.Op().Warn("daemon: enqueue failed", "instance", inst.Name(), "channel", channel, "module", module, "error", err)
		return
	}

	go func() {
		outcome := job.Wait()
		arena.Release()

		// One timeout/crashed line per faulting invocation, suppressed
		// for interval modules since their host may be transiently down
		// and a repeating chat message would be spam.
		if interval {
			return
		}
		switch outcome {
		case cmdchannel.OutcomeTimeout:
			inst.Say(channel, fmt.Sprintf("%s: command timeout", user))
		case cmdchannel.OutcomeCrashed:
			inst.Say(channel, fmt.Sprintf("%s: command crashed", user))
		}
	}()
}

// handleControl services one control.Request from the admin socket:
// reload/unload a plugin module, or grant/revoke/change an access level.
func (d *daemon) handleControl(req control.Request) control.Response {
	inst, ok := d.instances[req.Instance]
	if !ok {
		return control.Response{OK: false, Error: fmt.Sprintf("unknown instance %q", req.Instance)}
	}
	loader := d.loaders[req.Instance]

	switch req.Op {
	case "reload":
		mod, err := loader.Reload(req.Module)
		if err != nil {
			return control.Response{OK: false, Error: err.Error()}
		}
		inst.Rebind(req.Module, mod)
		return control.Response{OK: true, Result: fmt.Sprintf("reloaded %s", req.Module)}

	case "unload":
		if err := loader.Unload(req.Module, req.Instance); err != nil {
			return control.Response{OK: false, Error: err.Error()}
		}
		inst.UnbindAll(req.Module)
		return control.Response{OK: true, Result: fmt.Sprintf("unloaded %s", req.Module)}

	case "access_grant":
		result, err := inst.Acl.Insert(req.Channel, req.Invoker, req.Target, req.Level)
		return accessResponse(result, err)

	case "access_change":
		result, err := inst.Acl.Change(req.Channel, req.Invoker, req.Target, req.Level)
		return accessResponse(result, err)

	case "access_revoke":
		result, err := inst.Acl.Remove(req.Channel, req.Invoker, req.Target)
		return accessResponse(result, err)

	default:
		return control.Response{OK: false, Error: fmt.Sprintf("unknown op %q", req.Op)}
	}
}

func accessResponse(result access.Result, err error) control.Response {
	if err != nil {
		return control.Response{OK: false, Error: err.Error()}
	}
	return control.Response{OK: result == access.Success, Result: result.String()}
}

// run connects every instance (reattaching restart-inherited connections
// where available) and drives the multiplexer until ctx is canceled.
func (d *daemon) run(ctx context.Context) error {
	for name, inst := range d.instances {
		if conn, ok := d.reattached[name]; ok {
			inst.Reattach(conn)
			continue
		}
		if err := inst.Connect(ctx); err != nil {
			logging.Op().Warn("daemon: initial connect failed", "instance", name, "error", err)
		}
	}
	return d.mux.Run(ctx)
}

// close shuts down every instance and the multiplexer's self-pipe.
func (d *daemon) close() {
	d.mux.Close()
	for _, inst := range d.instances {
		inst.Close()
	}
}

// restartEnvVar carries the inherited-connection map across an exec()
// restart, formatted as "name:fd:host:port" tuples.
const restartEnvVar = "IRCBOTD_RESTART_FDS"

// newRNGRegistry builds a per-instance rng.Registry seeded from
// crypto/rand, so two networks loading the same module name never share
// a PRNG sequence.
func newRNGRegistry() *rng.Registry {
	return rng.NewRegistry(func() (uint64, uint64) {
		var buf [16]byte
		_, _ = rand.Read(buf[:])
		return binary.LittleEndian.Uint64(buf[:8]), binary.LittleEndian.Uint64(buf[8:])
	})
}

// parseRestartFDs reads IRCBOTD_RESTART_FDS, set by a prior process
// generation's SIGUSR1 restart handler, and reattaches each inherited
// socket as a *transport.Conn keyed by instance name.
func parseRestartFDs() map[string]*transport.Conn {
	raw := os.Getenv(restartEnvVar)
	if raw == "" {
		return nil
	}
	_ = os.Unsetenv(restartEnvVar)

	out := make(map[string]*transport.Conn)
	for _, entry := range strings.Split(raw, ",") {
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			continue
		}
		name := parts[0]
		fd, err1 := strconv.Atoi(parts[1])
		port, err2 := strconv.Atoi(parts[3])
		if err1 != nil || err2 != nil {
			continue
		}
		f := os.NewFile(uintptr(fd), name+"-restart")
		conn, err := transport.Reattach(&transport.RestartHint{Host: parts[2], Port: port}, f)
		if err != nil {
			logging.Op().Warn("daemon: reattach failed", "instance", name, "error", err)
			continue
		}
		out[name] = conn
	}
	return out
}
