package ircwire

import (
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/oriys/ircbotd/internal/container"
	"github.com/oriys/ircbotd/internal/metrics"
)

// MaxLineLength is the wire limit for one IRC line, including the
// trailing CRLF the caller appends at send time.
const MaxLineLength = 512

// OutboundQueue is one instance's FIFO of lines waiting to be written to
// the socket, rate-limited to avoid server-side flood kills.
type OutboundQueue struct {
	lines   *container.Queue[string]
	limiter *rate.Limiter
}

// NewOutboundQueue builds a queue that allows burst lines every interval,
// matching spec's FLOOD_LINES/FLOOD_INTERVAL pair (default 4 lines/1s).
func NewOutboundQueue(burst int, interval time.Duration) *OutboundQueue {
	if burst <= 0 {
		burst = 1
	}
	return &OutboundQueue{
		lines:   container.NewQueue[string](),
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst),
	}
}

// Enqueue frames text for the given command/params and appends the
// resulting line(s) to the tail, splitting any line that would exceed
// MaxLineLength on a word boundary and appending the parts in order.
// Each part is pushed separately, so a line enqueued concurrently from
// another goroutine can land between two parts of a long message.
func (q *OutboundQueue) Enqueue(command string, params ...string) {
	line := FormatLine(command, params...)
	parts := splitLine(line, command, params)
	for _, p := range parts {
		q.lines.PushBack(p)
	}
}

// splitLine breaks line into MaxLineLength-bounded chunks when the
// trailing param is the culprit, re-framing each chunk as its own
// command line.
func splitLine(line, command string, params []string) []string {
	if len(line) <= MaxLineLength-2 { // leave room for CRLF
		return []string{line}
	}
	if len(params) == 0 {
		return []string{line[:MaxLineLength-2]}
	}

	head := params[:len(params)-1]
	text := params[len(params)-1]

	prefixLine := FormatLine(command, append(append([]string{}, head...), "")...)
	budget := MaxLineLength - 2 - len(prefixLine)
	if budget < 8 {
		budget = 8
	}

	var out []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > budget {
			cut := strings.LastIndexByte(text[:budget], ' ')
			if cut <= 0 {
				cut = budget
			}
			chunk = text[:cut]
		}
		out = append(out, FormatLine(command, append(append([]string{}, head...), strings.TrimSpace(chunk))...))
		text = strings.TrimPrefix(text[len(chunk):], " ")
	}
	return out
}

// Drain pops up to the flood limiter's current allowance of lines,
// returning nil (not an empty, non-nil slice) when nothing is allowed
// through this tick, and recording a throttled tick in metrics when the
// queue is non-empty but the limiter denied everything.
func (q *OutboundQueue) Drain() []string {
	var out []string
	throttled := false
	for {
		if q.lines.Len() == 0 {
			break
		}
		if !q.limiter.Allow() {
			throttled = true
			break
		}
		line, ok := q.lines.PopFront()
		if !ok {
			break
		}
		out = append(out, line)
	}
	if len(out) > 0 {
		metrics.Global().RecordOutboundLines(len(out))
	}
	if throttled {
		metrics.Global().RecordThrottledTick()
	}
	return out
}

// Len reports how many lines are currently queued.
func (q *OutboundQueue) Len() int { return q.lines.Len() }
