package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"escrow/offchain/internal/models"
)

var (
	// ErrActionInFlight is returned when an action is started on a tracker
	// that is already running one.
	ErrActionInFlight = errors.New("another action is already in progress")
	// ErrTrackerNotReset is returned when an action is started on a tracker
	// still holding the result of the previous one.
	ErrTrackerNotReset = errors.New("transaction state must be reset before starting a new action")
)

// phase order of a successful action
var phaseOrder = map[models.TransactionStatus]int{
	models.TransactionStatusIdle:       0,
	models.TransactionStatusPreparing:  1,
	models.TransactionStatusSigning:    2,
	models.TransactionStatusSending:    3,
	models.TransactionStatusConfirming: 4,
	models.TransactionStatusSuccess:    5,
}

const subscriberBuffer = 16

// Tracker holds the TransactionState of one caller. It admits a single
// action at a time and stays in success or error until Reset.
type Tracker struct {
	mu          sync.Mutex
	state       models.TransactionState
	actionID    string
	pendingID   string
	updatedAt   time.Time
	subscribers map[int]chan models.TransactionState
	nextSub     int
	onChange    func(models.TransactionState)
}

// NewTracker returns an idle tracker
func NewTracker() *Tracker {
	return &Tracker{
		state:       models.TransactionState{Status: models.TransactionStatusIdle},
		updatedAt:   time.Now(),
		subscribers: make(map[int]chan models.TransactionState),
	}
}

// NewTrackerWithID returns an idle tracker whose next action is identified
// by id instead of a generated one
func NewTrackerWithID(id string) *Tracker {
	t := NewTracker()
	t.pendingID = id
	return t
}

// State returns a snapshot of the current state
func (t *Tracker) State() models.TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return snapshot(t.state)
}

// ActionID identifies the current or most recent action, empty before the
// first one
func (t *Tracker) ActionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actionID
}

// UpdatedAt is the time of the last transition
func (t *Tracker) UpdatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.updatedAt
}

// OnChange registers a callback invoked after every transition
func (t *Tracker) OnChange(fn func(models.TransactionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Subscribe streams transitions to the returned channel until cancel is
// called. Slow subscribers miss transitions rather than block the action.
func (t *Tracker) Subscribe() (<-chan models.TransactionState, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan models.TransactionState, subscriberBuffer)
	t.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Reset returns a finished tracker to idle
func (t *Tracker) Reset() error {
	t.mu.Lock()
	if t.state.Status.InFlight() {
		t.mu.Unlock()
		return ErrActionInFlight
	}
	t.state = models.TransactionState{Status: models.TransactionStatusIdle}
	t.mu.Unlock()

	t.notify()
	return nil
}

// begin moves an idle tracker into preparing under a new action id
func (t *Tracker) begin(message string) (string, error) {
	t.mu.Lock()
	switch {
	case t.state.Status.InFlight():
		t.mu.Unlock()
		return "", ErrActionInFlight
	case t.state.Status != models.TransactionStatusIdle:
		t.mu.Unlock()
		return "", ErrTrackerNotReset
	}
	t.actionID = t.pendingID
	if t.actionID == "" {
		t.actionID = uuid.NewString()
	}
	t.pendingID = ""
	t.state = models.TransactionState{Status: models.TransactionStatusPreparing, Message: message}
	id := t.actionID
	t.mu.Unlock()

	t.notify()
	return id, nil
}

// abandon moves an idle tracker straight to error without running an
// action, returning the id the action would have had
func (t *Tracker) abandon(txErr *models.TxError) (string, error) {
	t.mu.Lock()
	switch {
	case t.state.Status.InFlight():
		t.mu.Unlock()
		return "", ErrActionInFlight
	case t.state.Status != models.TransactionStatusIdle:
		t.mu.Unlock()
		return "", ErrTrackerNotReset
	}
	t.actionID = t.pendingID
	if t.actionID == "" {
		t.actionID = uuid.NewString()
	}
	t.pendingID = ""
	t.state = models.TransactionState{
		Status:  models.TransactionStatusError,
		Message: txErr.Message,
		Error:   txErr,
	}
	id := t.actionID
	t.mu.Unlock()

	t.notify()
	return id, nil
}

// advance moves to the next phase. Phases cannot be skipped or revisited.
func (t *Tracker) advance(status models.TransactionStatus, message string, sig *solana.Signature) error {
	t.mu.Lock()
	from := t.state.Status
	if phaseOrder[status] != phaseOrder[from]+1 || from.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("invalid transition %s -> %s", from, status)
	}
	t.state.Status = status
	t.state.Message = message
	if sig != nil {
		s := *sig
		t.state.Signature = &s
	}
	t.mu.Unlock()

	t.notify()
	return nil
}

// fail moves an in-flight action to error, keeping any signature
func (t *Tracker) fail(txErr *models.TxError) {
	t.mu.Lock()
	if !t.state.Status.InFlight() {
		t.mu.Unlock()
		return
	}
	t.state.Status = models.TransactionStatusError
	t.state.Message = txErr.Message
	t.state.Error = txErr
	t.mu.Unlock()

	t.notify()
}

func (t *Tracker) notify() {
	t.mu.Lock()
	t.updatedAt = time.Now()
	state := snapshot(t.state)
	fn := t.onChange
	for _, ch := range t.subscribers {
		select {
		case ch <- state:
		default:
		}
	}
	t.mu.Unlock()

	if fn != nil {
		fn(state)
	}
}

func snapshot(s models.TransactionState) models.TransactionState {
	out := s
	if s.Signature != nil {
		sig := *s.Signature
		out.Signature = &sig
	}
	return out
}
