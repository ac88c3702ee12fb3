package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"abyss-chat-backend/internal/backend"
	"abyss-chat-backend/internal/knowledge"
	"abyss-chat-backend/internal/metrics"
	"abyss-chat-backend/internal/resolver"
)

// Dispatcher answers one message. Implementations must always return an
// outcome; backend.Dispatcher falls back to local resolution.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) backend.Outcome
}

// Timing holds the simulated delays of the widget.
type Timing struct {
	ThinkMin          time.Duration
	ThinkMax          time.Duration
	CommandDelay      time.Duration
	QuickOptionsDelay time.Duration
}

// DefaultTiming returns the delays the widget uses in production.
func DefaultTiming() Timing {
	return Timing{
		ThinkMin:          800 * time.Millisecond,
		ThinkMax:          1400 * time.Millisecond,
		CommandDelay:      500 * time.Millisecond,
		QuickOptionsDelay: 2 * time.Second,
	}
}

// Options configures a Session. Zero values pick production defaults.
type Options struct {
	Timing   Timing
	Clock    Clock
	Source   resolver.Source
	Listener Listener
	// Spawn runs a dispatch off the caller's goroutine.
	Spawn       func(func())
	MaxMessages int
	// IsCommand reports whether free text resolves to a session command.
	// Such text is admitted past MaxMessages so the visitor can still clear.
	IsCommand func(text string) bool
	// Fallback answers when the dispatcher panics. It defaults to the
	// widget knowledge base's default pool.
	Fallback func() resolver.Result
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

type request struct {
	display      string
	dispatch     string
	hideAll      bool
	// command requests may exceed MaxMessages.
	command bool
	// local requests reset after CommandDelay without dispatching.
	local        bool
	quickActions bool
}

// Session is one visitor's conversation. The transcript only grows, except
// for the atomic reset done by Clear. At most one reply is pending; further
// submissions are rejected until it lands.
type Session struct {
	id         string
	greeting   string
	dispatcher Dispatcher
	timing     Timing
	clock      Clock
	src        resolver.Source
	listener   Listener
	spawn      func(func())
	max        int
	isCommand  func(string) bool
	fallback   func() resolver.Result
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu         sync.Mutex
	transcript []Message
	seq        int64
	pending    bool
	menu       MenuState
	generation uint64
	timers     map[uint64]Timer
	timerSeq   uint64
	lastActive time.Time
	closed     bool
}

// New creates a session seeded with the greeting and the initial options.
func New(id, greeting string, d Dispatcher, opts Options) *Session {
	s := &Session{
		id:         id,
		greeting:   greeting,
		dispatcher: d,
		timing:     opts.Timing,
		clock:      opts.Clock,
		src:        opts.Source,
		listener:   opts.Listener,
		spawn:      opts.Spawn,
		max:        opts.MaxMessages,
		isCommand:  opts.IsCommand,
		fallback:   opts.Fallback,
		log:        opts.Log.With().Str("session", id).Logger(),
		metrics:    opts.Metrics,
		now:        opts.Now,
	}
	if s.timing == (Timing{}) {
		s.timing = DefaultTiming()
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.src == nil {
		s.src = resolver.NewSource(0)
	}
	if s.fallback == nil {
		s.fallback = resolver.New(knowledge.Widget(), s.src).Default
	}
	if s.spawn == nil {
		s.spawn = func(f func()) { go f() }
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.lastActive = s.now()
	s.menu = MenuInitialOptions
	s.appendLocked(RoleAssistant, greeting, false)
	return s
}

func (s *Session) ID() string { return s.id }

// SubmitUserMessage accepts free text. It returns false and changes nothing
// when the trimmed text is empty or a reply is still pending.
func (s *Session) SubmitUserMessage(text string) bool {
	text = strings.TrimSpace(text)
	return s.submit(request{display: text, dispatch: text, command: s.looksLikeCommand(text)})
}

func (s *Session) looksLikeCommand(text string) bool {
	return text != "" && s.isCommand != nil && s.isCommand(text)
}

// SubmitOption sends the canned text for an option id and hides the option
// panel immediately. The clear option resets the session after a short delay
// without consulting the backend.
func (s *Session) SubmitOption(id string) bool {
	if id == OptionClear {
		return s.submit(request{display: clearOptionText, hideAll: true, command: true, local: true})
	}
	text, ok := OptionText(id)
	if !ok {
		s.metrics.Rejected("unknown_option")
		return false
	}
	return s.submit(request{display: text, dispatch: text, hideAll: true})
}

// SubmitSocial asks for a social profile. The quick actions panel is offered
// once the reply has been shown.
func (s *Session) SubmitSocial(platform string) bool {
	p, ok := SocialPlatform(platform)
	if !ok {
		s.metrics.Rejected("unknown_platform")
		return false
	}
	return s.submit(request{display: socialText(p), dispatch: p, hideAll: true, quickActions: true})
}

func (s *Session) submit(req request) bool {
	s.mu.Lock()
	if reason := s.rejectLocked(req); reason != "" {
		s.mu.Unlock()
		s.metrics.Rejected(reason)
		s.log.Debug().Str("reason", reason).Msg("submission ignored")
		return false
	}
	s.lastActive = s.now()
	s.appendLocked(RoleUser, req.display, true)
	if req.hideAll || s.menu == MenuQuickActions {
		s.setMenuLocked(MenuHidden)
	}
	s.setPendingLocked(true)
	s.emit(Event{Type: EventSound, Sound: SoundTyping})
	gen := s.generation
	s.mu.Unlock()

	if req.local {
		out := backend.Outcome{Result: resolver.ClearSession(), Source: backend.SourceLocal}
		s.schedule(gen, s.timing.CommandDelay, func() { s.onBackendResult(gen, req, out) })
		return true
	}
	s.spawn(func() { s.dispatch(gen, req) })
	return true
}

func (s *Session) rejectLocked(req request) string {
	switch {
	case s.closed:
		return "closed"
	case s.pending:
		return "pending"
	case req.display == "":
		return "empty"
	case s.max > 0 && len(s.transcript) >= s.max && !req.command:
		return "limit"
	}
	return ""
}

func (s *Session) dispatch(gen uint64, req request) {
	out := s.safeDispatch(req.dispatch)
	delay := s.thinkDelay()
	if out.Result.IsCommand() {
		delay = s.timing.CommandDelay
	}
	s.schedule(gen, delay, func() { s.onBackendResult(gen, req, out) })
}

func (s *Session) safeDispatch(text string) (out backend.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("dispatcher panicked")
			out = backend.Outcome{Result: s.fallback(), Source: backend.SourceLocal}
		}
	}()
	return s.dispatcher.Dispatch(context.Background(), text)
}

func (s *Session) thinkDelay() time.Duration {
	lo, hi := s.timing.ThinkMin, s.timing.ThinkMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.src.Intn(int(hi-lo)+1))
}

// schedule arms a continuation unless the generation has moved on.
func (s *Session) schedule(gen uint64, d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.closed {
		return
	}
	s.armLocked(d, f)
}

// armLocked tracks the timer until it fires so Clear can stop it.
func (s *Session) armLocked(d time.Duration, f func()) {
	if s.timers == nil {
		s.timers = make(map[uint64]Timer)
	}
	s.timerSeq++
	id := s.timerSeq
	s.timers[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		f()
	})
}

func (s *Session) onBackendResult(gen uint64, req request, out backend.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.closed {
		s.log.Debug().Uint64("generation", gen).Msg("stale result dropped")
		return
	}
	s.setPendingLocked(false)
	if out.Result.IsCommand() {
		s.resetLocked()
		return
	}
	s.appendLocked(RoleAssistant, out.Result.Text, true)
	if req.quickActions {
		s.armLocked(s.timing.QuickOptionsDelay, func() { s.revealQuickActions(gen) })
	}
}

func (s *Session) revealQuickActions(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation || s.closed {
		return
	}
	s.setMenuLocked(MenuQuickActions)
}

// Clear resets the transcript to the greeting and re-offers the initial
// options. Results still in flight are discarded.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lastActive = s.now()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.generation++
	s.stopTimersLocked()
	s.setPendingLocked(false)
	s.transcript = nil
	s.emit(Event{Type: EventSessionCleared})
	s.appendLocked(RoleAssistant, s.greeting, false)
	s.menu = ""
	s.setMenuLocked(MenuInitialOptions)
}

// Close stops pending continuations; the session accepts nothing afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.generation++
	s.stopTimersLocked()
}

func (s *Session) stopTimersLocked() {
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Session) appendLocked(role Role, content string, sound bool) {
	s.seq++
	m := Message{Role: role, Content: content, Sequence: s.seq, Timestamp: s.now()}
	s.transcript = append(s.transcript, m)
	s.metrics.Message(string(role))
	s.emit(Event{Type: EventMessageAppended, Message: &m})
	if sound {
		kind := SoundAssistant
		if role == RoleUser {
			kind = SoundUser
		}
		s.emit(Event{Type: EventSound, Sound: kind})
	}
}

func (s *Session) setPendingLocked(v bool) {
	if s.pending == v {
		return
	}
	s.pending = v
	s.emit(Event{Type: EventTypingChanged, Typing: &v})
}

func (s *Session) setMenuLocked(m MenuState) {
	if s.menu == m {
		return
	}
	s.menu = m
	s.emit(Event{Type: EventMenuChanged, Menu: m})
}

func (s *Session) emit(e Event) {
	if s.listener == nil {
		return
	}
	e.SessionID = s.id
	s.listener.OnEvent(e)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Generation: s.generation,
		Pending:    s.pending,
		Menu:       s.menu,
		Transcript: append([]Message(nil), s.transcript...),
	}
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// LastActive is the time of the latest accepted submission or clear.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
