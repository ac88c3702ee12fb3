package resolver

import (
	"testing"

	"abyss-chat-backend/internal/knowledge"
)

func contains(pool []string, s string) bool {
	for _, p := range pool {
		if p == s {
			return true
		}
	}
	return false
}

func TestResolveTopicMembership(t *testing.T) {
	kb := knowledge.Widget()
	r := New(kb, NewSource(7))
	for _, tp := range kb.Topics() {
		if tp.IsCommand() {
			continue
		}
		for _, kw := range tp.Keywords {
			// Only keywords that resolve to their own topic under the
			// declaration-order tie-break are meaningful here.
			first, _ := kb.Lookup(kw)
			want, _ := kb.Topic(first.ID)
			res := r.Resolve(kw)
			if want.IsCommand() {
				if !res.IsCommand() {
					t.Errorf("Resolve(%q) = %+v, want command", kw, res)
				}
				continue
			}
			if res.IsCommand() || !contains(want.Responses, res.Text) {
				t.Errorf("Resolve(%q) = %q, not in %s responses", kw, res.Text, want.ID)
			}
			if res.Topic != want.ID {
				t.Errorf("Resolve(%q).Topic = %q, want %q", kw, res.Topic, want.ID)
			}
		}
	}
}

func TestResolveAge(t *testing.T) {
	kb := knowledge.Widget()
	age, _ := kb.Topic("age")
	r := New(kb, NewSource(1))
	for i := 0; i < 50; i++ {
		res := r.Resolve("How old is Alish?")
		if res.IsCommand() {
			t.Fatal("age question resolved to a command")
		}
		if !contains(age.Responses, res.Text) {
			t.Fatalf("reply %q not an age response", res.Text)
		}
	}
}

func TestResolveClearCommand(t *testing.T) {
	r := New(knowledge.Widget(), NewSource(1))
	for _, text := range []string{"clear", "please reset", "let's start over", "new conversation"} {
		res := r.Resolve(text)
		if !res.IsCommand() || res.Command != knowledge.CommandClearSession {
			t.Errorf("Resolve(%q) = %+v, want clear command", text, res)
		}
		if res.Text != "" {
			t.Errorf("command carries text %q", res.Text)
		}
	}
}

func TestResolveDefaultPool(t *testing.T) {
	kb := knowledge.Widget()
	r := New(kb, NewSource(3))
	res := r.Resolve("qqq")
	if res.IsCommand() || res.Topic != "" || !contains(kb.Defaults(), res.Text) {
		t.Fatalf("unexpected default result %+v", res)
	}
}

func TestResolveDeterministicWithSeed(t *testing.T) {
	kb := knowledge.Widget()
	a := New(kb, NewSource(42))
	b := New(kb, NewSource(42))
	for _, text := range []string{"who are you", "where", "skills", "qqq", "tensorflow"} {
		if x, y := a.Resolve(text), b.Resolve(text); x != y {
			t.Fatalf("Resolve(%q) diverged: %+v vs %+v", text, x, y)
		}
	}
}

type fixedSource int

func (f fixedSource) Intn(n int) int { return int(f) % n }

func TestResolveUsesInjectedSource(t *testing.T) {
	kb := knowledge.Widget()
	age, _ := kb.Topic("age")
	res := New(kb, fixedSource(2)).Resolve("age")
	if res.Text != age.Responses[2] {
		t.Fatalf("got %q, want %q", res.Text, age.Responses[2])
	}
}

func TestIsCommand(t *testing.T) {
	r := New(knowledge.Widget(), NewSource(1))
	for _, text := range []string{"clear", "please RESET the chat"} {
		if !r.IsCommand(text) {
			t.Errorf("IsCommand(%q) = false", text)
		}
	}
	for _, text := range []string{"How old is Alish?", "qqq"} {
		if r.IsCommand(text) {
			t.Errorf("IsCommand(%q) = true", text)
		}
	}
}
