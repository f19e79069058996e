package vault

import (
	"sync"

	"go.uber.org/zap"
)

// Action is what a LockoutPolicy decided after a verification attempt.
type Action int

const (
	// ActionNone means no threshold was reached.
	ActionNone Action = iota

	// ActionDecoy means the threshold was reached in decoy mode: the caller
	// should show a misleading message and nothing was touched.
	ActionDecoy

	// ActionWipe means the threshold was reached and the vault was wiped.
	ActionWipe
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionDecoy:
		return "decoy"
	case ActionWipe:
		return "wipe"
	default:
		return "unknown"
	}
}

// LockoutTarget is what a LockoutPolicy guards. Store implements it.
type LockoutTarget interface {
	VerifyPassword(password string) bool
	Wipe() error
	WipeAfterAttempts() int
	PrankOnly() bool
}

// Attempt is the outcome of one LockoutPolicy.Verify call.
type Attempt struct {
	OK        bool
	Failures  int // consecutive failures, after this attempt
	Remaining int // failures left before the threshold action
	Action    Action
}

// LockoutPolicy counts consecutive failed verifications and, at the
// configured threshold, either wipes the vault or signals a decoy. The
// counter lives in memory only and starts at zero in every process.
type LockoutPolicy struct {
	target   LockoutTarget
	log      *zap.Logger
	mu       sync.Mutex
	failures int
}

// NewLockoutPolicy returns a policy for target. A nil logger discards.
func NewLockoutPolicy(target LockoutTarget, log *zap.Logger) *LockoutPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return &LockoutPolicy{target: target, log: log}
}

// Verify checks password and applies the policy. The threshold and decoy
// flag are read from the target on every call. A successful verification
// resets the counter, as does reaching the threshold. The returned error is
// only set when the wipe itself failed.
func (p *LockoutPolicy) Verify(password string) (Attempt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.target.VerifyPassword(password) {
		p.failures = 0
		return Attempt{OK: true}, nil
	}

	p.failures++
	threshold := clamp(p.target.WipeAfterAttempts(), MinWipeAfterAttempts, MaxWipeAfterAttempts)
	attempt := Attempt{Failures: p.failures, Remaining: threshold - p.failures}
	if p.failures < threshold {
		return attempt, nil
	}

	p.failures = 0
	attempt.Remaining = 0
	if p.target.PrankOnly() {
		p.log.Warn("failed attempt threshold reached, decoy mode", zap.Int("threshold", threshold))
		attempt.Action = ActionDecoy
		return attempt, nil
	}

	p.log.Warn("failed attempt threshold reached, wiping vault", zap.Int("threshold", threshold))
	attempt.Action = ActionWipe
	if err := p.target.Wipe(); err != nil {
		return attempt, err
	}
	return attempt, nil
}

// Failures returns the current consecutive failure count.
func (p *LockoutPolicy) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Reset clears the failure count.
func (p *LockoutPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
}

var _ LockoutTarget = (*Store)(nil)
