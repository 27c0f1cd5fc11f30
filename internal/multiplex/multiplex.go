// Package multiplex implements C12: the instance event loop. One
// unix.Poll call waits on every connected instance's socket plus a
// self-pipe, so a goroutine that wants to wake the loop early (a new
// instance came up, shutdown was requested) can do so without the loop
// busy-polling or blocking past its interval-module tick boundary.
package multiplex

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/oriys/ircbotd/internal/container"
	"github.com/oriys/ircbotd/internal/instance"
	"github.com/oriys/ircbotd/internal/logging"
)

// member is one polled instance plus its partial-line reassembly buffer.
type member struct {
	inst     *instance.Instance
	pending  []byte
	lastTick map[string]time.Time // "channel/module" -> last interval fire
}

// Multiplexer drives the poll loop over every registered instance.
type Multiplexer struct {
	mu      sync.Mutex
	members []*member

	wakeR *os.File
	wakeW *os.File

	tick time.Duration
}

// New builds a Multiplexer with its self-pipe wakeup, both ends
// non-blocking so a write to a full pipe or a read from an empty one
// never stalls the loop.
func New(tick time.Duration) (*Multiplexer, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &Multiplexer{
		wakeR: os.NewFile(uintptr(p[0]), "wake-r"),
		wakeW: os.NewFile(uintptr(p[1]), "wake-w"),
		tick:  tick,
	}, nil
}

// Add registers inst with the multiplexer and wakes the poll loop so it
// picks the new fd up on its next iteration.
func (m *Multiplexer) Add(inst *instance.Instance) {
	m.mu.Lock()
	m.members = append(m.members, &member{inst: inst, lastTick: make(map[string]time.Time)})
	m.mu.Unlock()
	m.Wake()
}

// Remove drops inst from the poll set.
func (m *Multiplexer) Remove(inst *instance.Instance) {
	m.mu.Lock()
	for i, mem := range m.members {
		if mem.inst == inst {
			m.members = append(m.members[:i], m.members[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.Wake()
}

// Wake interrupts a blocked poll call, e.g. after Add/Remove or when
// shutting down.
func (m *Multiplexer) Wake() {
	_, _ = m.wakeW.Write([]byte{0})
}

// Close releases the self-pipe.
func (m *Multiplexer) Close() {
	m.wakeR.Close()
	m.wakeW.Close()
}

// Run polls every connected instance's socket plus the self-pipe until
// ctx is canceled, reassembling wire lines, flushing outbound queues,
// and firing interval-module ticks on each loop iteration.
func (m *Multiplexer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m.mu.Lock()
		members := append([]*member{}, m.members...)
		m.mu.Unlock()

		pollfds := make([]unix.PollFd, 0, len(members)+1)
		pollfds = append(pollfds, unix.PollFd{Fd: int32(m.wakeR.Fd()), Events: unix.POLLIN})

		fdIndex := make(map[int]*member, len(members))
		for _, mem := range members {
			conn := mem.inst.Conn()
			if conn == nil {
				continue
			}
			fd, err := conn.Fd()
			if err != nil {
				continue
			}
			fdIndex[len(pollfds)] = mem
			pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}

		n, err := unix.Poll(pollfds, int(m.tick.Milliseconds()))
		if err != nil && err != unix.EINTR {
			return err
		}
		if n > 0 {
			if pollfds[0].Revents&unix.POLLIN != 0 {
				buf := make([]byte, 64)
				for {
					if k, _ := m.wakeR.Read(buf); k <= 0 {
						break
					}
				}
			}
			for i, pfd := range pollfds {
				if i == 0 {
					continue
				}
				if pfd.Revents&unix.POLLIN == 0 {
					continue
				}
				mem := fdIndex[i]
				if mem == nil {
					continue
				}
				m.readInstance(mem)
			}
		}

		m.flushOutbound(members)
		m.fireIntervals(ctx, members)
	}
}

func (m *Multiplexer) readInstance(mem *member) {
	conn := mem.inst.Conn()
	if conn == nil {
		return
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if n > 0 {
		mem.pending = append(mem.pending, buf[:n]...)
		for {
			idx := indexCRLF(mem.pending)
			if idx < 0 {
				break
			}
			line := strings.TrimRight(string(mem.pending[:idx]), "\r\n")
			mem.pending = mem.pending[idx:]
			mem.pending = trimLeadingCRLF(mem.pending)
			if line != "" {
				mem.inst.HandleLine(line)
			}
		}
	}
	if err != nil {
		logging.Op().Warn("multiplex: instance read failed", "instance", mem.inst.Name(), "error", err)
		mem.inst.Disconnect()
	}
}

func indexCRLF(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] == '\n' {
			return i + 1
		}
	}
	return -1
}

func trimLeadingCRLF(b []byte) []byte {
	for len(b) > 0 && (b[0] == '\r' || b[0] == '\n') {
		b = b[1:]
	}
	return b
}

func (m *Multiplexer) flushOutbound(members []*member) {
	for _, mem := range members {
		conn := mem.inst.Conn()
		if conn == nil {
			continue
		}
		lines := mem.inst.Outbound().Drain()
		for _, line := range lines {
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				logging.Op().Warn("multiplex: instance write failed", "instance", mem.inst.Name(), "error", err)
				mem.inst.Disconnect()
				break
			}
		}
	}
}

// fireIntervals fans out interval-module ticks across every channel's
// bindings in parallel, bounded by errgroup so one slow module's tick
// does not delay another's. Two execution styles share this sweep:
// fixed-period modules (Interval > 0) fire on an empty message once
// their period elapses, and "always" modules (Interval < 0, see
// plugin.Entrypoints.IsAlways) fire every tick against whatever
// message last arrived on the channel, picked up via TakeLastMessage.
func (m *Multiplexer) fireIntervals(ctx context.Context, members []*member) {
	g, _ := errgroup.WithContext(ctx)
	now := time.Now()

	for _, mem := range members {
		mem := mem
		if mem.inst.FireInterval == nil {
			continue
		}
		mem.inst.AllBindings().Range(func(channel string, perChan *container.OrderedMap[string, *instance.ModuleBinding]) bool {
			perChan.Range(func(module string, binding *instance.ModuleBinding) bool {
				if binding.Entry == nil {
					return true
				}

				switch {
				case binding.Entry.Entrypoints.IsAlways():
					message, user, ok := mem.inst.TakeLastMessage(channel)
					if !ok {
						return true
					}
					channel, binding, message, user := channel, binding, message, user
					g.Go(func() error {
						mem.inst.FireInterval(mem.inst, channel, binding, message, user)
						return nil
					})

				case binding.Entry.Entrypoints.Interval > 0:
					key := channel + "/" + module
					period := time.Duration(binding.Entry.Entrypoints.Interval) * time.Second
					if now.Sub(mem.lastTick[key]) < period {
						return true
					}
					mem.lastTick[key] = now
					channel, binding := channel, binding
					g.Go(func() error {
						mem.inst.FireInterval(mem.inst, channel, binding, "", "")
						return nil
					})
				}
				return true
			})
			return true
		})
	}
	_ = g.Wait()
}
