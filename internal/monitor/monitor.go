package monitor

import (
	"context"
	"sync"
	"time"

	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
	"github.com/smallbiznis/bookvault/internal/order/event"
	"go.uber.org/zap"
)

// State is the monitor's position in the payment-watch lifecycle.
type State string

const (
	StateOrderCreated  State = "order_created"
	StateWindowOpened  State = "window_opened"
	StatePolling       State = "polling"
	StateSettled       State = "settled"
	StateFailed        State = "failed"
	StateTimedOut      State = "timed_out"
	StateUserCancelled State = "user_cancelled"
)

// Reason qualifies how a terminal state was reached.
type Reason string

const (
	ReasonDeadline     Reason = "deadline"
	ReasonWindowClosed Reason = "window_closed"
	ReasonOrderExpired Reason = "order_expired"
	ReasonUserCancel   Reason = "user_cancel"
	ReasonStopped      Reason = "stopped"
)

// StatusSource answers status polls, typically backed by the order API.
type StatusSource interface {
	OrderStatus(ctx context.Context, orderNumber string) (orderdomain.Status, error)
}

// Canceller performs a user-initiated cancellation.
type Canceller interface {
	CancelOrder(ctx context.Context, orderNumber string) error
}

type Config struct {
	// PollInterval is the gap between status polls while the payment window
	// is open.
	PollInterval time.Duration
	// Deadline bounds the whole watch; reaching it triggers one final poll.
	Deadline time.Duration
	// CloseGrace delays the final poll after the payment window closes, so
	// a settlement racing the close can still land.
	CloseGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = 30 * time.Minute
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 2 * time.Second
	}
	return c
}

// Outcome is the monitor's verdict once a terminal state is reached.
// StillPending means the watch gave up while the order itself may yet settle
// server-side.
type Outcome struct {
	State        State
	LastStatus   orderdomain.Status
	StillPending bool
	Reason       Reason
}

type command int

const (
	cmdWindowOpened command = iota
	cmdWindowClosed
	cmdPause
	cmdResume
	cmdCancel
	cmdStop
)

// Session watches one order from creation until a terminal state. All state
// lives on a single goroutine; the exported methods only send commands.
type Session struct {
	orderNumber string
	source      StatusSource
	canceller   Canceller
	cfg         Config
	log         *zap.Logger

	commands chan command
	done     chan struct{}

	mu      sync.Mutex
	state   State
	outcome Outcome

	sub *event.Subscription
}

// Start begins watching orderNumber. hub may be nil; when present, pushed
// transitions resolve the session without waiting for the next poll.
func Start(ctx context.Context, orderNumber string, source StatusSource, canceller Canceller, hub *event.Hub, cfg Config, log *zap.Logger) *Session {
	s := &Session{
		orderNumber: orderNumber,
		source:      source,
		canceller:   canceller,
		cfg:         cfg.withDefaults(),
		log:         log.Named("payment.monitor").With(zap.String("order_number", orderNumber)),
		commands:    make(chan command, 8),
		done:        make(chan struct{}),
		state:       StateOrderCreated,
	}

	var pushed <-chan event.Transition
	if hub != nil {
		if sub, backlog, err := hub.Subscribe(orderNumber); err == nil {
			s.sub = sub
			pushed = sub.Events()
			for _, t := range backlog {
				if terminal, outcome := outcomeForStatus(t.To); terminal {
					outcome.LastStatus = t.To
					s.finish(outcome)
					return s
				}
			}
		}
	}

	go s.run(ctx, pushed)
	return s
}

// WindowOpened tells the session the payment page is in front of the user;
// polling starts now.
func (s *Session) WindowOpened() { s.send(cmdWindowOpened) }

// WindowClosed tells the session the user dismissed the payment page. One
// grace poll follows before giving up.
func (s *Session) WindowClosed() { s.send(cmdWindowClosed) }

// Pause suspends polling without abandoning the watch.
func (s *Session) Pause() { s.send(cmdPause) }

// Resume restarts polling after Pause.
func (s *Session) Resume() { s.send(cmdResume) }

// Cancel requests a server-side cancellation and ends the watch.
func (s *Session) Cancel() { s.send(cmdCancel) }

// Stop abandons the watch without touching the order.
func (s *Session) Stop() { s.send(cmdStop) }

// Done closes once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) send(c command) {
	select {
	case s.commands <- c:
	case <-s.done:
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) finish(outcome Outcome) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.state = outcome.State
	s.outcome = outcome
	close(s.done)
	s.mu.Unlock()
	if s.sub != nil {
		s.sub.Close()
	}
}

func (s *Session) run(ctx context.Context, pushed <-chan event.Transition) {
	deadline := time.NewTimer(s.cfg.Deadline)
	defer deadline.Stop()

	poll := time.NewTicker(s.cfg.PollInterval)
	poll.Stop()
	defer poll.Stop()

	var grace *time.Timer
	graceCh := func() <-chan time.Time {
		if grace == nil {
			return nil
		}
		return grace.C
	}
	defer func() {
		if grace != nil {
			grace.Stop()
		}
	}()

	polling := false
	paused := false
	var last orderdomain.Status = orderdomain.StatusPending

	startPolling := func() {
		if !polling {
			poll.Reset(s.cfg.PollInterval)
			polling = true
		}
	}
	stopPolling := func() {
		if polling {
			poll.Stop()
			polling = false
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(Outcome{
				State:        StateTimedOut,
				LastStatus:   last,
				StillPending: last == orderdomain.StatusPending,
				Reason:       ReasonStopped,
			})
			return

		case t := <-pushed:
			if terminal, outcome := outcomeForStatus(t.To); terminal {
				outcome.LastStatus = t.To
				s.finish(outcome)
				return
			}

		case cmd := <-s.commands:
			switch cmd {
			case cmdWindowOpened:
				if s.State() == StateOrderCreated {
					s.setState(StateWindowOpened)
					s.setState(StatePolling)
					startPolling()
				}
			case cmdWindowClosed:
				stopPolling()
				if grace == nil {
					grace = time.NewTimer(s.cfg.CloseGrace)
				} else {
					grace.Reset(s.cfg.CloseGrace)
				}
			case cmdPause:
				paused = true
			case cmdResume:
				paused = false
			case cmdCancel:
				if s.canceller != nil {
					if err := s.canceller.CancelOrder(ctx, s.orderNumber); err != nil {
						s.log.Warn("cancel request failed", zap.Error(err))
					}
				}
				s.finish(Outcome{
					State:      StateUserCancelled,
					LastStatus: orderdomain.StatusCancelled,
					Reason:     ReasonUserCancel,
				})
				return
			case cmdStop:
				s.finish(Outcome{
					State:        StateTimedOut,
					LastStatus:   last,
					StillPending: last == orderdomain.StatusPending,
					Reason:       ReasonStopped,
				})
				return
			}

		case <-poll.C:
			if paused {
				continue
			}
			status, ok := s.poll(ctx)
			if !ok {
				continue
			}
			last = status
			if terminal, outcome := outcomeForStatus(status); terminal {
				outcome.LastStatus = status
				s.finish(outcome)
				return
			}

		case <-graceCh():
			// One last look after the window closed.
			if status, ok := s.poll(ctx); ok {
				last = status
				if terminal, outcome := outcomeForStatus(status); terminal {
					outcome.LastStatus = status
					s.finish(outcome)
					return
				}
			}
			s.finish(Outcome{
				State:        StateTimedOut,
				LastStatus:   last,
				StillPending: last == orderdomain.StatusPending,
				Reason:       ReasonWindowClosed,
			})
			return

		case <-deadline.C:
			if status, ok := s.poll(ctx); ok {
				last = status
				if terminal, outcome := outcomeForStatus(status); terminal {
					outcome.LastStatus = status
					s.finish(outcome)
					return
				}
			}
			s.finish(Outcome{
				State:        StateTimedOut,
				LastStatus:   last,
				StillPending: last == orderdomain.StatusPending,
				Reason:       ReasonDeadline,
			})
			return
		}
	}
}

func (s *Session) poll(ctx context.Context) (orderdomain.Status, bool) {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollInterval)
	defer cancel()
	status, err := s.source.OrderStatus(pollCtx, s.orderNumber)
	if err != nil {
		// Transient poll failures are absorbed; the next tick retries.
		s.log.Warn("status poll failed", zap.Error(err))
		return "", false
	}
	return status, true
}

func outcomeForStatus(status orderdomain.Status) (bool, Outcome) {
	switch status {
	case orderdomain.StatusPaid:
		return true, Outcome{State: StateSettled}
	case orderdomain.StatusFailed:
		return true, Outcome{State: StateFailed}
	case orderdomain.StatusCancelled:
		return true, Outcome{State: StateUserCancelled, Reason: ReasonUserCancel}
	case orderdomain.StatusExpired:
		return true, Outcome{State: StateTimedOut, Reason: ReasonOrderExpired}
	case orderdomain.StatusRefunded:
		return true, Outcome{State: StateSettled}
	}
	return false, Outcome{}
}
