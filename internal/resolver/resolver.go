package resolver

import (
	"math/rand"
	"sync"
	"time"

	"abyss-chat-backend/internal/knowledge"
)

// Source is the random draw used for template selection.
type Source interface {
	Intn(n int) int
}

type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSource returns a goroutine-safe seeded source. A zero seed is replaced
// by the current time.
func NewSource(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{r: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}

type Kind int

const (
	KindReply Kind = iota
	KindCommand
)

// Result is either a text reply or a session-control command.
type Result struct {
	Kind    Kind
	Text    string
	Command string
	// Topic is the matched topic id, empty when the default pool answered.
	Topic string
}

func Reply(text string) Result { return Result{Kind: KindReply, Text: text} }

func ClearSession() Result {
	return Result{Kind: KindCommand, Command: knowledge.CommandClearSession}
}

func (r Result) IsCommand() bool { return r.Kind == KindCommand }

// Resolver maps free text to a reply or command. It holds no per-call state
// and is shared by every session.
type Resolver struct {
	kb  *knowledge.Base
	src Source
}

func New(kb *knowledge.Base, src Source) *Resolver {
	if src == nil {
		src = NewSource(0)
	}
	return &Resolver{kb: kb, src: src}
}

func (r *Resolver) Resolve(text string) Result {
	t, ok := r.kb.Lookup(text)
	if !ok {
		return r.Default()
	}
	if t.IsCommand() {
		res := ClearSession()
		res.Topic = t.ID
		return res
	}
	res := Reply(r.pick(t.Responses))
	res.Topic = t.ID
	return res
}

// Default draws a reply from the default pool.
func (r *Resolver) Default() Result {
	return Reply(r.pick(r.kb.Defaults()))
}

func (r *Resolver) Greeting() string { return r.kb.Greeting() }

func (r *Resolver) pick(pool []string) string {
	return pool[r.src.Intn(len(pool))]
}

// IsCommand reports whether text matches a session-control topic.
func (r *Resolver) IsCommand(text string) bool {
	t, ok := r.kb.Lookup(text)
	return ok && t.IsCommand()
}
