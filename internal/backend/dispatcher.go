package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"abyss-chat-backend/internal/metrics"
	"abyss-chat-backend/internal/resolver"
)

const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Outcome is the answer to one dispatched message and the path that served it.
type Outcome struct {
	Result resolver.Result
	Source string
}

// Dispatcher makes one remote attempt per message and falls back to the
// local resolver on any failure. It never retries.
type Dispatcher struct {
	remote  Remote
	local   *resolver.Resolver
	timeout time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher builds a dispatcher. A nil remote means local resolution only.
func NewDispatcher(remote Remote, local *resolver.Resolver, timeout time.Duration, log zerolog.Logger, m *metrics.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{remote: remote, local: local, timeout: timeout, log: log, metrics: m}
}

// Dispatch always returns an outcome, including when the remote or the
// resolver panics.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Msg("dispatch failed, using default pool")
			out = d.degraded()
		}
		d.metrics.Dispatch(out.Source)
	}()

	if d.remote != nil {
		reply, err := d.callRemote(ctx, text)
		if err == nil {
			return Outcome{Result: resolver.Reply(reply), Source: SourceRemote}
		}
		d.log.Warn().Err(err).Msg("remote backend unavailable, resolving locally")
	}
	res := d.local.Resolve(text)
	d.metrics.Topic(res.Topic)
	return Outcome{Result: res, Source: SourceLocal}
}

func (d *Dispatcher) callRemote(ctx context.Context, text string) (reply string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote panic: %v", r)
		}
	}()
	return d.remote.Reply(ctx, text)
}

// degraded must not panic itself; an empty default pool is rejected when
// the knowledge base is parsed.
func (d *Dispatcher) degraded() Outcome {
	return Outcome{Result: d.local.Default(), Source: SourceLocal}
}

// Local exposes the fallback resolver.
func (d *Dispatcher) Local() *resolver.Resolver { return d.local }
