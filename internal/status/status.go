package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	derrors "github.com/mickaelvieira/dpop-oidc-client-go/internal/errors"
)

// State is the outcome of the last authorization check.
type State struct {
	Authorized bool      `json:"authorized"`
	Checked    bool      `json:"checked"`
	CheckedAt  time.Time `json:"checked_at,omitzero"`
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func (s State) Label() string {
	if s.Authorized {
		return "Authorized"
	}
	return "Unauthorized"
}

// Cell holds the latest State for concurrent readers.
type Cell struct {
	lock  sync.RWMutex
	state State
}

func (c *Cell) Get() State {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.state
}

func (c *Cell) Set(s State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.state = s
}

// Checker reports whether the user is currently authorized.
type Checker interface {
	CheckAuthorized(ctx context.Context) (bool, error)
}

// Poller runs a Checker on a fixed interval and records each outcome.
type Poller struct {
	checker  Checker
	cell     *Cell
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	running  sync.Mutex
	requests chan struct{}
}

func NewPoller(checker Checker, cell *Cell, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		checker:  checker,
		cell:     cell,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		requests: make(chan struct{}, 1),
	}
}

// Start checks once immediately and then on every tick until ctx is done.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("starting authorization poller", "interval", p.interval)

	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("stopping authorization poller")
			return
		case <-ticker.C:
			p.Check(ctx)
		case <-p.requests:
			p.Check(ctx)
		}
	}
}

// Trigger asks the running poller for a check outside the schedule and
// returns without waiting for it. It reports false when a request is already
// pending.
func (p *Poller) Trigger() bool {
	select {
	case p.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// Check runs one authorization check. Concurrent calls are serialized.
func (p *Poller) Check(ctx context.Context) State {
	p.running.Lock()
	defer p.running.Unlock()

	ok, err := p.checker.CheckAuthorized(ctx)

	s := State{
		Authorized: ok && err == nil,
		Checked:    true,
		CheckedAt:  p.now(),
	}

	if err != nil {
		s.Error = err.Error()
		if code, found := derrors.CodeOf(err); found {
			s.Code = string(code)
		}
		p.logger.Warn("authorization check failed", "code", s.Code, "error", err)
	} else {
		p.logger.Debug("authorization checked", "authorized", s.Authorized)
	}

	p.cell.Set(s)
	return s
}
