package fetch

import (
	"math"
	"time"
)

// State is the position of a single fetch in its retry lifecycle.
type State int

const (
	// Pending means no attempt has completed yet.
	Pending State = iota
	// Retrying means at least one transient failure occurred and another
	// attempt is allowed.
	Retrying
	// Succeeded is terminal: the last attempt returned a usable response.
	Succeeded
	// Failed is terminal: a permanent failure occurred or attempts ran out.
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome classifies the result of one attempt.
type Outcome int

const (
	Success Outcome = iota
	Transient
	Permanent
)

// Policy bounds the number of attempts and shapes the backoff between them.
type Policy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// DefaultPolicy allows four attempts, backing off from 600ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 600 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}
}

// Backoff returns the wait before the attempt following failed attempt n
// (1-based): InitialBackoff * Multiplier^(n-1), capped at MaxBackoff.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 || p.InitialBackoff <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.InitialBackoff) * math.Pow(mult, float64(n-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Retrier is the bounded-attempt state machine driving one fetch:
// Pending -> Retrying(n) -> {Succeeded, Failed}. It performs no I/O and never
// sleeps, so backoff and give-up decisions can be tested in isolation.
type Retrier struct {
	policy   Policy
	state    State
	attempts int
}

// NewRetrier creates a retrier in the Pending state.
func NewRetrier(policy Policy) *Retrier {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrier{policy: policy, state: Pending}
}

// State returns the current state.
func (r *Retrier) State() State {
	return r.state
}

// Attempts returns how many attempts have been recorded.
func (r *Retrier) Attempts() int {
	return r.attempts
}

// Done reports whether the retrier reached a terminal state.
func (r *Retrier) Done() bool {
	return r.state == Succeeded || r.state == Failed
}

// Record feeds the outcome of an attempt into the state machine and returns
// the new state together with the wait before the next attempt. retryAfter is
// the server-requested delay (zero when absent); it raises the computed
// backoff but never beyond MaxBackoff.
func (r *Retrier) Record(outcome Outcome, retryAfter time.Duration) (State, time.Duration) {
	if r.Done() {
		return r.state, 0
	}

	r.attempts++

	switch outcome {
	case Success:
		r.state = Succeeded
		return r.state, 0
	case Permanent:
		r.state = Failed
		return r.state, 0
	}

	if r.attempts >= r.policy.MaxAttempts {
		r.state = Failed
		return r.state, 0
	}

	r.state = Retrying
	wait := r.policy.Backoff(r.attempts)
	if retryAfter > wait {
		wait = retryAfter
		if r.policy.MaxBackoff > 0 && wait > r.policy.MaxBackoff {
			wait = r.policy.MaxBackoff
		}
	}
	return r.state, wait
}
