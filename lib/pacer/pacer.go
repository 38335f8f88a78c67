// Package pacer implements an exponential-backoff call pacer: a reusable
// retry wrapper that serializes calls, decays its sleep time on success and
// backs off on failure. Its Calculator/State shapes and RandomBackoff jitter
// are reused beyond Pacer itself wherever a bounded poll/retry/backoff loop
// is needed — the named-mutex acquire wait and its lock-upgrade
// deadlock-breaker.
package pacer

import (
	"math/rand"
	"sync"
	"time"
)

// State holds the current backoff state fed to a Calculator.
type State struct {
	SleepTime          time.Duration // current base sleep duration
	ConsecutiveRetries int           // number of retries in a row so far
}

// Calculator works out the sleep time for the next call given the current
// State.
type Calculator interface {
	Calculate(state State) time.Duration
}

// Default is a Calculator that decays the sleep time by decayConstant on
// success and grows it by attackConstant on failure, clamped to
// [minSleep, maxSleep].
type Default struct {
	minSleep       time.Duration
	maxSleep       time.Duration
	decayConstant  uint
	attackConstant uint
}

// DefaultOption configures a Default calculator.
type DefaultOption func(*Default)

// MinSleep sets the minimum sleep time.
func MinSleep(d time.Duration) DefaultOption { return func(c *Default) { c.minSleep = d } }

// MaxSleep sets the maximum sleep time.
func MaxSleep(d time.Duration) DefaultOption { return func(c *Default) { c.maxSleep = d } }

// DecayConstant sets how fast the sleep time decays on success; bigger is
// slower (exponential).
func DecayConstant(d uint) DefaultOption { return func(c *Default) { c.decayConstant = d } }

// AttackConstant sets how fast the sleep time grows on failure.
func AttackConstant(d uint) DefaultOption { return func(c *Default) { c.attackConstant = d } }

// NewDefault creates a Default calculator with the given options.
func NewDefault(opts ...DefaultOption) *Default {
	c := &Default{
		minSleep:       10 * time.Millisecond,
		maxSleep:       2 * time.Second,
		decayConstant:  2,
		attackConstant: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Default) clamp(d time.Duration) time.Duration {
	if d < c.minSleep {
		return c.minSleep
	}
	if d > c.maxSleep {
		return c.maxSleep
	}
	return d
}

// Calculate implements Calculator.
func (c *Default) Calculate(state State) time.Duration {
	if state.ConsecutiveRetries == 0 {
		// success: decay
		if c.decayConstant == 0 {
			return c.minSleep
		}
		sleepTime := (state.SleepTime<<c.decayConstant - state.SleepTime) >> c.decayConstant
		return c.clamp(sleepTime)
	}
	// failure: attack
	if c.attackConstant == 0 {
		return c.maxSleep
	}
	sleepTime := (state.SleepTime*time.Duration(c.attackConstant) + state.SleepTime) / time.Duration(c.attackConstant)
	return c.clamp(sleepTime)
}

// Pacer serializes calls to a single resource, retrying and backing off
// according to a Calculator.
type Pacer struct {
	mu             sync.Mutex
	pacer          chan struct{}
	connTokens     chan struct{}
	maxConnections int
	retries        int
	calculator     Calculator
	state          State
}

// Option configures a Pacer.
type Option func(*Pacer)

// RetriesOption sets the number of times Call will retry before giving up.
func RetriesOption(retries int) Option { return func(p *Pacer) { p.retries = retries } }

// MaxConnectionsOption bounds the number of calls in flight at once; 0 means
// unbounded.
func MaxConnectionsOption(n int) Option { return func(p *Pacer) { p.SetMaxConnections(n) } }

// CalculatorOption sets the backoff Calculator.
func CalculatorOption(c Calculator) Option {
	return func(p *Pacer) {
		p.calculator = c
		if d, ok := c.(*Default); ok {
			p.state.SleepTime = d.minSleep
		}
	}
}

// New creates a Pacer with the given options. The default calculator is
// NewDefault() and the default retry count is 3.
func New(opts ...Option) *Pacer {
	p := &Pacer{
		pacer:   make(chan struct{}, 1),
		retries: 3,
	}
	p.pacer <- struct{}{}
	CalculatorOption(NewDefault())(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetMaxConnections changes the maximum number of concurrent calls allowed.
func (p *Pacer) SetMaxConnections(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxConnections = n
	if n <= 0 {
		p.connTokens = nil
		return
	}
	p.connTokens = make(chan struct{}, n)
	for i := 0; i < n; i++ {
		p.connTokens <- struct{}{}
	}
}

// SetRetries sets how many times Call will retry a retryable failure.
func (p *Pacer) SetRetries(retries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = retries
}

// beginCall waits for a pace token and (if connection limiting is enabled) a
// connection token, consuming both.
func (p *Pacer) beginCall() {
	<-p.pacer
	if p.connTokens != nil {
		<-p.connTokens
	}
}

// endCall returns the connection token (if any) and reschedules the next
// pace token after the calculator's sleep time. retry indicates whether the
// call should be retried, which feeds ConsecutiveRetries.
func (p *Pacer) endCall(retry bool, err error) {
	if p.connTokens != nil {
		p.connTokens <- struct{}{}
	}
	p.mu.Lock()
	if retry {
		p.state.ConsecutiveRetries++
	} else {
		p.state.ConsecutiveRetries = 0
	}
	p.state.SleepTime = p.calculator.Calculate(p.state)
	sleepTime := p.state.SleepTime
	p.mu.Unlock()
	go func() {
		time.Sleep(sleepTime)
		p.pacer <- struct{}{}
	}()
}

// call runs fn up to maxTries times, retrying while fn reports retry=true.
func (p *Pacer) call(fn func() (bool, error), maxTries int) (err error) {
	var retry bool
	for try := 1; try <= maxTries; try++ {
		p.beginCall()
		retry, err = fn()
		p.endCall(retry, err)
		if !retry {
			return err
		}
	}
	return err
}

// Call runs fn, retrying while it returns (true, err), up to the Pacer's
// configured retry count.
func (p *Pacer) Call(fn func() (bool, error)) error {
	p.mu.Lock()
	retries := p.retries
	p.mu.Unlock()
	return p.call(fn, retries)
}

// CallNoRetry runs fn exactly once, still going through the pacing and
// connection-limiting machinery.
func (p *Pacer) CallNoRetry(fn func() (bool, error)) error {
	return p.call(fn, 1)
}

// RandomBackoff returns a random duration in [min, max), used by the
// lock-upgrade deadlock-breaker's jittered retry.
func RandomBackoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
