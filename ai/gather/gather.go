// Package gather fans out independent external calls and records one outcome per call.
// A slow or failing provider never aborts the batch: timeouts and errors are recorded
// as typed failures next to the successful payloads.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default bounds applied when Options leaves them unset. No external call is unbounded.
const (
	DefaultPerCallTimeout = 8 * time.Second
	DefaultOverallBudget  = 12 * time.Second
)

// Kind classifies a failed call.
type Kind string

const (
	// KindTimeout is recorded when a call exceeds its own timeout or the batch budget.
	KindTimeout Kind = "TIMEOUT"
	// KindProviderError is recorded when a call returns an error or panics.
	KindProviderError Kind = "PROVIDER_ERROR"
)

// Invocation is a thunk capturing its own inputs. ctx carries the per-call deadline.
type Invocation func(ctx context.Context) (any, error)

// Failure describes one failed call.
type Failure struct {
	Name    string `json:"name"`
	Kind    Kind   `json:"error_kind"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %s", f.Name, f.Kind, f.Message)
}

// Outcome is either a payload or a failure, never both.
type Outcome struct {
	Payload any      `json:"payload,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// OK reports whether the call succeeded.
func (o Outcome) OK() bool { return o.Failure == nil }

// Observer receives one notification per recorded outcome.
type Observer interface {
	ObserveCall(name string, outcome string, d time.Duration)
}

// Options bounds one Gather batch.
type Options struct {
	// PerCallTimeout applies to every call individually.
	PerCallTimeout time.Duration
	// OverallBudget is the ceiling for the whole batch.
	OverallBudget time.Duration
	// MaxParallel limits in-flight calls. Zero means all calls start at once.
	MaxParallel int
	// Observer is optional.
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.PerCallTimeout <= 0 {
		o.PerCallTimeout = DefaultPerCallTimeout
	}
	if o.OverallBudget <= 0 {
		o.OverallBudget = DefaultOverallBudget
	}
	if o.MaxParallel < 0 {
		o.MaxParallel = 0
	}
	return o
}

// Gather starts every call concurrently and returns once each call name has an outcome
// or the overall budget expires, whichever is sooner. Calls still pending at expiry are
// recorded as KindTimeout and their late results are discarded.
func Gather(ctx context.Context, calls map[string]Invocation, opts Options) Result {
	res := make(Result, len(calls))
	if len(calls) == 0 {
		return res
	}
	opts = opts.withDefaults()

	budgetCtx, cancel := context.WithTimeout(ctx, opts.OverallBudget)
	defer cancel()

	var (
		mu     sync.Mutex
		closed bool
	)
	record := func(name string, o Outcome, d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if _, exists := res[name]; exists {
			return
		}
		res[name] = o
		observe(opts.Observer, name, o, d)
	}

	names := make([]string, 0, len(calls))
	for name := range calls {
		names = append(names, name)
	}
	sort.Strings(names)

	start := time.Now()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		if opts.MaxParallel > 0 {
			g.SetLimit(opts.MaxParallel)
		}
		for _, name := range names {
			inv := calls[name]
			g.Go(func() error {
				if budgetCtx.Err() != nil {
					return nil
				}
				callStart := time.Now()
				callCtx, cancelCall := context.WithTimeout(budgetCtx, opts.PerCallTimeout)
				defer cancelCall()
				o := runOne(callCtx, budgetCtx, name, inv, opts.PerCallTimeout)
				record(name, o, time.Since(callStart))
				return nil
			})
		}
		_ = g.Wait() //nolint:errcheck // calls never return errors to the group
	}()

	select {
	case <-done:
	case <-budgetCtx.Done():
	}

	mu.Lock()
	closed = true
	for _, name := range names {
		if _, ok := res[name]; ok {
			continue
		}
		o := Outcome{Failure: &Failure{Name: name, Kind: KindTimeout, Message: budgetMessage(ctx, opts.OverallBudget)}}
		res[name] = o
		observe(opts.Observer, name, o, time.Since(start))
	}
	mu.Unlock()

	if failed := res.Failed(); len(failed) > 0 {
		slog.Debug("gather: batch finished with failures",
			"calls", len(names),
			"failed", len(failed),
			"duration_ms", time.Since(start).Milliseconds())
	}
	return res
}

// runOne executes a single invocation. The thunk runs in its own goroutine so a call
// that ignores its context still cannot hold the batch past its deadline.
func runOne(callCtx, budgetCtx context.Context, name string, inv Invocation, perCall time.Duration) Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- Outcome{Failure: &Failure{Name: name, Kind: KindProviderError, Message: fmt.Sprintf("panic: %v", r)}}
			}
		}()
		if inv == nil {
			ch <- Outcome{Failure: &Failure{Name: name, Kind: KindProviderError, Message: "nil invocation"}}
			return
		}
		payload, err := inv(callCtx)
		if err != nil {
			kind := KindProviderError
			if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
				kind = KindTimeout
			}
			ch <- Outcome{Failure: &Failure{Name: name, Kind: kind, Message: err.Error()}}
			return
		}
		ch <- Outcome{Payload: payload}
	}()

	select {
	case o := <-ch:
		return o
	case <-callCtx.Done():
		select {
		case o := <-ch:
			return o
		default:
		}
		msg := fmt.Sprintf("no response within %s", perCall)
		if budgetCtx.Err() != nil {
			msg = "overall budget exceeded"
		}
		return Outcome{Failure: &Failure{Name: name, Kind: KindTimeout, Message: msg}}
	}
}

func budgetMessage(parent context.Context, budget time.Duration) string {
	if parent.Err() != nil {
		return "cancelled: " + parent.Err().Error()
	}
	return fmt.Sprintf("overall budget of %s exceeded", budget)
}

func observe(obs Observer, name string, o Outcome, d time.Duration) {
	if obs == nil {
		return
	}
	outcome := "success"
	if o.Failure != nil {
		outcome = string(o.Failure.Kind)
	}
	obs.ObserveCall(name, outcome, d)
}
