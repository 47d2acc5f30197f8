// Package presence tracks who is online in a session room and who is
// currently typing, from the channel's discrete join/leave/typing events.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// DefaultTypingIdle is how long after the last keystroke the local typing
// indicator is retracted.
const DefaultTypingIdle = 2 * time.Second

// Options configures an Aggregator.
type Options struct {
	// EmitTyping is called to publish the local user's typing state.
	// May be nil when the caller never reports keystrokes.
	EmitTyping func(isTyping bool)
	// TypingIdle overrides DefaultTypingIdle when > 0.
	TypingIdle time.Duration
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// Aggregator maintains the presence set and the typing set. A full
// online_users snapshot replaces membership entirely; join/leave events
// mutate it incrementally and idempotently.
type Aggregator struct {
	mu     sync.Mutex
	online map[string]string // userId -> displayName
	typing map[string]bool   // displayName -> true

	emitTyping  func(bool)
	typingIdle  time.Duration
	clk         clock.Clock
	typingTimer *clock.Timer
	localTyping bool
}

func NewAggregator(opts Options) *Aggregator {
	idle := opts.TypingIdle
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		online:     map[string]string{},
		typing:     map[string]bool{},
		emitTyping: opts.EmitTyping,
		typingIdle: idle,
		clk:        clk,
	}
}

// ApplySnapshot replaces the presence set with the full snapshot; last
// snapshot wins, ids absent from it are dropped.
func (a *Aggregator) ApplySnapshot(users []wire.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = make(map[string]string, len(users))
	for _, u := range users {
		a.online[u.ID] = u.Name
	}
}

// ApplyJoined upserts one participant. Joining an already-present id is a
// no-op beyond refreshing the display name.
func (a *Aggregator) ApplyJoined(userID, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.online[userID] = name
}

// ApplyLeft removes one participant if present.
func (a *Aggregator) ApplyLeft(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.online, userID)
}

// ApplyTyping records a remote participant's typing state. Duplicate adds
// and removals of absent names are no-ops.
func (a *Aggregator) ApplyTyping(ev wire.UserTyping) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ev.IsTyping {
		a.typing[ev.UserName] = true
	} else {
		delete(a.typing, ev.UserName)
	}
}

// Online returns the current presence set, sorted by display name.
func (a *Aggregator) Online() []wire.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]wire.User, 0, len(a.online))
	for id, name := range a.online {
		out = append(out, wire.User{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// TypingNames returns the names currently typing, sorted.
func (a *Aggregator) TypingNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.typing))
	for name := range a.typing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Keystroke reports local typing activity. The first keystroke publishes
// typing(true); each one resets the idle timer, whose expiry publishes
// typing(false).
func (a *Aggregator) Keystroke() {
	a.mu.Lock()
	started := !a.localTyping
	a.localTyping = true
	if a.typingTimer != nil {
		a.typingTimer.Stop()
	}
	a.typingTimer = a.clk.AfterFunc(a.typingIdle, a.typingIdleExpired)
	a.mu.Unlock()
	if started && a.emitTyping != nil {
		a.emitTyping(true)
	}
}

func (a *Aggregator) typingIdleExpired() {
	a.mu.Lock()
	a.typingTimer = nil
	retract := a.localTyping
	a.localTyping = false
	a.mu.Unlock()
	if retract && a.emitTyping != nil {
		a.emitTyping(false)
	}
}

// Blur retracts the local typing indicator immediately, e.g. when the
// input loses focus.
func (a *Aggregator) Blur() {
	a.mu.Lock()
	a.stopTimerLocked()
	retract := a.localTyping
	a.localTyping = false
	a.mu.Unlock()
	if retract && a.emitTyping != nil {
		a.emitTyping(false)
	}
}

// Stop cancels the pending typing timer without publishing anything.
// Called on session teardown, when the channel is already going away.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	a.localTyping = false
}

func (a *Aggregator) stopTimerLocked() {
	if a.typingTimer != nil {
		a.typingTimer.Stop()
		a.typingTimer = nil
	}
}
