package lifecycle

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrow/offchain/internal/models"
)

func TestTracker_Transitions(t *testing.T) {
	tracker := NewTracker()
	assert.Equal(t, models.TransactionStatusIdle, tracker.State().Status)
	assert.Empty(t, tracker.ActionID())

	var changes []models.TransactionStatus
	tracker.OnChange(func(s models.TransactionState) {
		changes = append(changes, s.Status)
	})

	id, err := tracker.begin("preparing")
	require.NoError(t, err)
	assert.Equal(t, id, tracker.ActionID())

	// phases cannot be skipped
	assert.Error(t, tracker.advance(models.TransactionStatusSending, "", nil))

	require.NoError(t, tracker.advance(models.TransactionStatusSigning, "signing", nil))
	require.NoError(t, tracker.advance(models.TransactionStatusSending, "sending", nil))
	sig := solana.Signature{1, 2, 3}
	require.NoError(t, tracker.advance(models.TransactionStatusConfirming, "confirming", &sig))
	require.NoError(t, tracker.advance(models.TransactionStatusSuccess, "done", &sig))

	state := tracker.State()
	assert.Equal(t, models.TransactionStatusSuccess, state.Status)
	assert.Equal(t, "done", state.Message)
	require.NotNil(t, state.Signature)
	assert.Equal(t, sig, *state.Signature)

	// snapshots do not alias tracker state
	state.Signature[0] = 9
	assert.Equal(t, sig, *tracker.State().Signature)

	assert.Error(t, tracker.advance(models.TransactionStatusError, "", nil))

	assert.Equal(t, []models.TransactionStatus{
		models.TransactionStatusPreparing,
		models.TransactionStatusSigning,
		models.TransactionStatusSending,
		models.TransactionStatusConfirming,
		models.TransactionStatusSuccess,
	}, changes)
}

func TestTracker_FailKeepsSignature(t *testing.T) {
	tracker := NewTracker()
	_, err := tracker.begin("")
	require.NoError(t, err)
	require.NoError(t, tracker.advance(models.TransactionStatusSigning, "", nil))
	require.NoError(t, tracker.advance(models.TransactionStatusSending, "", nil))
	sig := solana.Signature{4}
	require.NoError(t, tracker.advance(models.TransactionStatusConfirming, "", &sig))

	tracker.fail(models.NewTxError(models.ErrorKindConfirmationTimeout, nil))

	state := tracker.State()
	assert.Equal(t, models.TransactionStatusError, state.Status)
	assert.Equal(t, "Transaction confirmation timed out", state.Message)
	require.NotNil(t, state.Signature)
	assert.Equal(t, sig, *state.Signature)

	// fail is ignored once terminal
	tracker.fail(models.NewTxError(models.ErrorKindUserRejected, nil))
	assert.Equal(t, models.ErrorKindConfirmationTimeout, tracker.State().Error.Kind)
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker()
	first, err := tracker.begin("")
	require.NoError(t, err)

	assert.ErrorIs(t, tracker.Reset(), ErrActionInFlight)

	tracker.fail(models.NewTxError(models.ErrorKindUserRejected, nil))
	_, err = tracker.begin("")
	assert.ErrorIs(t, err, ErrTrackerNotReset)

	require.NoError(t, tracker.Reset())
	state := tracker.State()
	assert.Equal(t, models.TransactionStatusIdle, state.Status)
	assert.Empty(t, state.Message)
	assert.Nil(t, state.Signature)
	assert.Nil(t, state.Error)

	second, err := tracker.begin("")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestTracker_Subscribe(t *testing.T) {
	tracker := NewTracker()
	updates, cancel := tracker.Subscribe()

	_, err := tracker.begin("go")
	require.NoError(t, err)

	got := <-updates
	assert.Equal(t, models.TransactionStatusPreparing, got.Status)
	assert.Equal(t, "go", got.Message)

	cancel()
	cancel()
	_, open := <-updates
	assert.False(t, open)

	// transitions after cancel do not panic on the closed channel
	require.NoError(t, tracker.advance(models.TransactionStatusSigning, "", nil))
}

func TestNewTrackerWithID(t *testing.T) {
	tracker := NewTrackerWithID("assigned")

	id, err := tracker.begin("")
	require.NoError(t, err)
	assert.Equal(t, "assigned", id)

	tracker.fail(models.NewTxError(models.ErrorKindUserRejected, nil))
	require.NoError(t, tracker.Reset())

	next, err := tracker.begin("")
	require.NoError(t, err)
	assert.NotEqual(t, "assigned", next)
	assert.NotEmpty(t, next)
}

func TestTracker_Abandon(t *testing.T) {
	tracker := NewTrackerWithID("queued")

	id, err := tracker.abandon(models.NewTxError(models.ErrorKindUnclassified, errors.New("stopped")))
	require.NoError(t, err)
	assert.Equal(t, "queued", id)
	assert.Equal(t, "queued", tracker.ActionID())

	state := tracker.State()
	assert.Equal(t, models.TransactionStatusError, state.Status)
	require.NotNil(t, state.Error)
	assert.Equal(t, models.ErrorKindUnclassified, state.Error.Kind)

	_, err = tracker.abandon(models.NewTxError(models.ErrorKindUnclassified, nil))
	assert.ErrorIs(t, err, ErrTrackerNotReset)

	require.NoError(t, tracker.Reset())
	_, err = tracker.begin("")
	require.NoError(t, err)
	_, err = tracker.abandon(models.NewTxError(models.ErrorKindUnclassified, nil))
	assert.ErrorIs(t, err, ErrActionInFlight)
}
