package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CommandClearSession marks a topic whose match resets the chat session
// instead of producing a reply.
const CommandClearSession = "clear_session"

var ErrInvalidTopic = errors.New("invalid topic")

//go:embed widget.yaml
var widgetYAML []byte

//go:embed backend.yaml
var backendYAML []byte

type Topic struct {
	ID        string   `yaml:"id"`
	Keywords  []string `yaml:"keywords"`
	Responses []string `yaml:"responses"`
	Command   string   `yaml:"command,omitempty"`
}

// IsCommand reports whether the topic is a session-control topic.
func (t Topic) IsCommand() bool { return t.Command != "" }

type file struct {
	Greeting string   `yaml:"greeting"`
	Topics   []Topic  `yaml:"topics"`
	Defaults []string `yaml:"defaults"`
}

// Base is an immutable, ordered set of topics. Declaration order breaks ties
// between topics whose keywords overlap.
type Base struct {
	greeting string
	topics   []Topic
	defaults []string
}

// Widget returns the embedded knowledge base used by the chat widget for
// local resolution.
func Widget() *Base { return mustParse("widget", widgetYAML) }

// Backend returns the embedded knowledge base served by the /chat endpoint.
func Backend() *Base { return mustParse("backend", backendYAML) }

func mustParse(name string, b []byte) *Base {
	kb, err := Parse(b)
	if err != nil {
		panic(fmt.Sprintf("embedded %s knowledge base: %v", name, err))
	}
	return kb
}

// Load reads a knowledge base from a YAML file on disk.
func Load(path string) (*Base, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	kb, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse knowledge base %s: %w", path, err)
	}
	return kb, nil
}

// Parse decodes and validates a YAML knowledge base. Keywords are lowercased
// at load time so Lookup only normalizes the input.
func Parse(b []byte) (*Base, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if len(f.Topics) == 0 {
		return nil, fmt.Errorf("%w: no topics", ErrInvalidTopic)
	}
	if len(f.Defaults) == 0 {
		return nil, fmt.Errorf("%w: default pool is empty", ErrInvalidTopic)
	}
	seen := make(map[string]bool, len(f.Topics))
	topics := make([]Topic, 0, len(f.Topics))
	for i, t := range f.Topics {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: topic #%d has no id", ErrInvalidTopic, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidTopic, id)
		}
		seen[id] = true
		kws := make([]string, 0, len(t.Keywords))
		for _, k := range t.Keywords {
			if k = strings.ToLower(k); k != "" {
				kws = append(kws, k)
			}
		}
		if len(kws) == 0 {
			return nil, fmt.Errorf("%w: %q has no keywords", ErrInvalidTopic, id)
		}
		switch {
		case t.Command != "" && t.Command != CommandClearSession:
			return nil, fmt.Errorf("%w: %q has unknown command %q", ErrInvalidTopic, id, t.Command)
		case t.Command == "" && len(t.Responses) == 0:
			return nil, fmt.Errorf("%w: %q has no responses", ErrInvalidTopic, id)
		}
		topics = append(topics, Topic{
			ID:        id,
			Keywords:  kws,
			Responses: append([]string(nil), t.Responses...),
			Command:   t.Command,
		})
	}
	return &Base{
		greeting: f.Greeting,
		topics:   topics,
		defaults: append([]string(nil), f.Defaults...),
	}, nil
}

// Lookup returns the first topic, in declaration order, that has a keyword
// contained in text. Matching is plain substring containment.
func (b *Base) Lookup(text string) (Topic, bool) {
	m := strings.ToLower(text)
	for _, t := range b.topics {
		if containsAny(m, t.Keywords) {
			return t, true
		}
	}
	return Topic{}, false
}

// Topic returns the topic with the given id.
func (b *Base) Topic(id string) (Topic, bool) {
	for _, t := range b.topics {
		if t.ID == id {
			return t, true
		}
	}
	return Topic{}, false
}

// Topics returns a copy of the topics in declaration order.
func (b *Base) Topics() []Topic {
	return append([]Topic(nil), b.topics...)
}

func (b *Base) Defaults() []string { return append([]string(nil), b.defaults...) }

func (b *Base) Greeting() string { return b.greeting }

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
