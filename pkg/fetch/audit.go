package fetch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// EventKind identifies the audit event shape emitted by the fetcher.
type EventKind string

const (
	EventAttempt   EventKind = "attempt"
	EventBlocked   EventKind = "blocked"
	EventDNSAnswer EventKind = "dns_answer"
	EventRedirect  EventKind = "redirect"
	EventOverflow  EventKind = "audit_overflow"
	EventHookError EventKind = "audit_hook_error"
)

// Event is a single audit record. DNSAnswers is populated for EventDNSAnswer
// so operators can inspect full resolution detail even though the caller
// only ever sees a sanitised, generic transport error (spec §6).
type Event struct {
	Kind       EventKind
	Host       string
	URL        string
	Class      Class
	DNSAnswers []ResolvedAddr
	Err        error
}

// auditor delivers Events to a user hook off the request path via a bounded
// channel and a single drain goroutine, so a slow or buggy hook can never
// block a fetch. Overflow and hook-panics/errors are themselves reported,
// but rate-limited and guarded against recursing into the same channel.
type auditor struct {
	hook     func(Event)
	ch       chan Event
	overflow rate.Sometimes
	hookErr  rate.Sometimes
	inHook   atomic.Bool
	once     sync.Once
	closed   chan struct{}
}

func newAuditor(hook func(Event)) *auditor {
	a := &auditor{
		hook:     hook,
		ch:       make(chan Event, 256),
		overflow: rate.Sometimes{Interval: 5 * time.Second},
		hookErr:  rate.Sometimes{Interval: 5 * time.Second},
		closed:   make(chan struct{}),
	}
	if hook == nil {
		return a
	}
	go a.drain()
	return a
}

func (a *auditor) drain() {
	for {
		select {
		case ev := <-a.ch:
			a.deliver(ev)
		case <-a.closed:
			return
		}
	}
}

func (a *auditor) deliver(ev Event) {
	if a.inHook.Load() {
		// A hook that (mis)behaves and triggers another emit synchronously
		// must not recurse into itself.
		return
	}
	a.inHook.Store(true)
	defer a.inHook.Store(false)

	defer func() {
		if r := recover(); r != nil {
			a.hookErr.Do(func() {
				// Queued rather than delivered synchronously: we're still
				// inside deliver (inHook is true), and the drain loop only
				// picks this back up once this call returns and inHook is
				// cleared, so it never recurses into a broken hook.
				errEv := Event{
					Kind:  EventHookError,
					Host:  ev.Host,
					URL:   ev.URL,
					Class: ev.Class,
					Err:   fmt.Errorf("audit hook panicked: %v", r),
				}
				select {
				case a.ch <- errEv:
				default:
				}
			})
		}
	}()
	a.hook(ev)
}

func (a *auditor) emit(ev Event) {
	if a.hook == nil {
		return
	}
	select {
	case a.ch <- ev:
	default:
		a.overflow.Do(func() {
			overflowEv := Event{Kind: EventOverflow, Host: ev.Host, URL: ev.URL, Class: ev.Class}
			// The queue is full at this point, so the overflow event is
			// queued from its own goroutine once the drain loop frees a
			// slot (or the auditor closes); the caller's fetch path never
			// waits on it, and rate.Sometimes bounds how many are pending.
			go func() {
				select {
				case a.ch <- overflowEv:
				case <-a.closed:
				}
			}()
		})
	}
}

func (a *auditor) close() {
	a.once.Do(func() { close(a.closed) })
}
