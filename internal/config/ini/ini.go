// Package ini loads the per-network INI configuration described in
// spec.md section 6. This is the one piece of the "external collaborator"
// INI loader that SPEC_FULL.md implements for real, since a Go repository
// needs a working loader rather than a documented contract.
//
// # Section grammar
//
//	[<net>]                    instance section
//	[<net>:<chan>]             channel sub-section
//	[<net>:<chan>:<mod>]       module sub-section (per-channel module config)
//
// Recognised instance keys: nick, pattern, host, port, auth, database, ssl.
// Recognised channel key: modules (comma-separated list, or "*" for every
// plugin found in the plugin directory).
package ini

import (
	"fmt"
	"strconv"
	"strings"

	goini "gopkg.in/ini.v1"
)

// ChannelConfig describes one configured channel within an instance.
type ChannelConfig struct {
	Name    string
	Modules []string // explicit list, or ["*"] meaning "every plugin"
	// ModuleConfig holds the [<net>:<chan>:<mod>] key/value bodies, keyed
	// by module name. Copied verbatim into the runtime ModuleBinding at
	// enable time.
	ModuleConfig map[string]map[string]string
}

// InstanceConfig describes one configured IRC network.
type InstanceConfig struct {
	Name     string // the <net> section name
	Nick     string
	Pattern  string // command-prefix pattern, e.g. "!"
	Host     string
	Port     int
	Auth     string // NickServ IDENTIFY secret, optional
	Database string // path to this instance's SQLite file
	SSL      bool
	Channels map[string]*ChannelConfig
}

// Document is the parsed form of the whole INI file: one InstanceConfig
// per top-level [<net>] section.
type Document struct {
	Instances map[string]*InstanceConfig
}

// Load parses path into a Document.
func Load(path string) (*Document, error) {
	f, err := goini.LoadSources(goini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		return nil, fmt.Errorf("ini: load %s: %w", path, err)
	}
	return parse(f)
}

func parse(f *goini.File) (*Document, error) {
	doc := &Document{Instances: make(map[string]*InstanceConfig)}

	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == goini.DefaultSection {
			continue
		}

		parts := strings.SplitN(name, ":", 3)
		switch len(parts) {
		case 1:
			inst := doc.instance(parts[0])
			if err := applyInstanceKeys(inst, sec); err != nil {
				return nil, err
			}
		case 2:
			inst := doc.instance(parts[0])
			ch := inst.channel(parts[1])
			applyChannelKeys(ch, sec)
		case 3:
			inst := doc.instance(parts[0])
			ch := inst.channel(parts[1])
			mod := parts[2]
			cfg := make(map[string]string)
			for _, key := range sec.Keys() {
				cfg[key.Name()] = key.Value()
			}
			if ch.ModuleConfig == nil {
				ch.ModuleConfig = make(map[string]map[string]string)
			}
			ch.ModuleConfig[mod] = cfg
		}
	}

	return doc, nil
}

func (d *Document) instance(name string) *InstanceConfig {
	inst, ok := d.Instances[name]
	if !ok {
		inst = &InstanceConfig{Name: name, Channels: make(map[string]*ChannelConfig)}
		d.Instances[name] = inst
	}
	return inst
}

func (inst *InstanceConfig) channel(name string) *ChannelConfig {
	ch, ok := inst.Channels[name]
	if !ok {
		ch = &ChannelConfig{Name: name}
		inst.Channels[name] = ch
	}
	return ch
}

func applyInstanceKeys(inst *InstanceConfig, sec *goini.Section) error {
	if k, err := sec.GetKey("nick"); err == nil {
		inst.Nick = k.Value()
	}
	if k, err := sec.GetKey("pattern"); err == nil {
		inst.Pattern = k.Value()
	}
	if k, err := sec.GetKey("host"); err == nil {
		inst.Host = k.Value()
	}
	if k, err := sec.GetKey("port"); err == nil {
		p, err := strconv.Atoi(k.Value())
		if err != nil {
			return fmt.Errorf("ini: [%s] port: %w", inst.Name, err)
		}
		inst.Port = p
	}
	if k, err := sec.GetKey("auth"); err == nil {
		inst.Auth = k.Value()
	}
	if k, err := sec.GetKey("database"); err == nil {
		inst.Database = k.Value()
	}
	if k, err := sec.GetKey("ssl"); err == nil {
		inst.SSL = k.MustBool(false)
	}
	return nil
}

func applyChannelKeys(ch *ChannelConfig, sec *goini.Section) {
	if k, err := sec.GetKey("modules"); err == nil {
		raw := k.Value()
		if raw == "*" {
			ch.Modules = []string{"*"}
			return
		}
		var mods []string
		for _, m := range strings.Split(raw, ",") {
			m = strings.TrimSpace(m)
			if m != "" {
				mods = append(mods, m)
			}
		}
		ch.Modules = mods
	}
}
