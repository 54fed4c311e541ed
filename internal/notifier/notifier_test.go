package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/drop-minter/internal/config"
	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/reconcile"
	"github.com/suspectuso/drop-minter/internal/storage"
)

type sent struct {
	chatID   int64
	text     string
	keyboard *models.InlineKeyboardMarkup
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sent
	failFor  int64
}

func (f *fakeSender) SendNotification(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if chatID == f.failFor {
		return errors.New("chat not found")
	}
	f.messages = append(f.messages, sent{chatID: chatID, text: text, keyboard: keyboard})
	return nil
}

func newTestNotifier(chatIDs ...int64) (*Notifier, *fakeSender) {
	sender := &fakeSender{}
	cfg := &config.Config{Network: "mainnet", OperatorChatIDs: chatIDs}
	return New(cfg, sender, slog.New(slog.NewTextHandler(io.Discard, nil))), sender
}

var entitlement = storage.Entitlement{
	Identity:     "stake1uxpayer0000000000000000000000000000000000000000000000",
	PayerAddress: "addr1payer",
	DepositTx:    "deposit-tx",
}

func TestNotifier_Fulfilled(t *testing.T) {
	n, sender := newTestNotifier(1, 2)

	n.Fulfilled(context.Background(), entitlement, reconcile.Fulfillment{
		TxHash:  "mint-tx",
		Variant: minter.Variant{ID: "frost", Name: "Frost"},
	})

	require.Len(t, sender.messages, 2)
	assert.Equal(t, int64(1), sender.messages[0].chatID)
	assert.Equal(t, int64(2), sender.messages[1].chatID)

	msg := sender.messages[0]
	assert.Contains(t, msg.text, "Выдано")
	assert.Contains(t, msg.text, "Frost")
	assert.Contains(t, msg.text, "mint-tx")
	assert.Contains(t, msg.text, "https://cardanoscan.io/stakekey/"+entitlement.Identity)

	require.NotNil(t, msg.keyboard)
	row := msg.keyboard.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, "https://cardanoscan.io/transaction/deposit-tx", row[0].URL)
	assert.Equal(t, "https://cardanoscan.io/transaction/mint-tx", row[1].URL)
}

func TestNotifier_FulfillmentFailed(t *testing.T) {
	n, sender := newTestNotifier(1)

	n.FulfillmentFailed(context.Background(), entitlement, errors.New("minter error 500: <utxo exhausted>"))

	require.Len(t, sender.messages, 1)
	text := sender.messages[0].text
	assert.Contains(t, text, "Выдача не удалась")
	assert.Contains(t, text, "&lt;utxo exhausted&gt;")
	assert.Contains(t, text, "/retry "+entitlement.Identity)
	assert.Len(t, sender.messages[0].keyboard.InlineKeyboard[0], 1)
}

func TestNotifier_Unrecorded(t *testing.T) {
	n, sender := newTestNotifier(1)

	uerr := &reconcile.UnrecordedError{
		Fulfillment: reconcile.Fulfillment{TxHash: "mint-tx", Variant: minter.Variant{ID: "moss"}},
		Err:         errors.New("database is locked"),
	}
	n.FulfillmentFailed(context.Background(), entitlement, uerr)

	require.Len(t, sender.messages, 1)
	text := sender.messages[0].text
	assert.Contains(t, text, "не записано")
	assert.Contains(t, text, "minter mark-fulfilled "+entitlement.Identity+" mint-tx moss")
	assert.NotContains(t, text, "/retry")
}

func TestNotifier_Interrupted(t *testing.T) {
	n, sender := newTestNotifier(1)

	e := entitlement
	e.Attempts = 1
	e.AttemptOpen = true
	n.FulfillmentFailed(context.Background(), e, reconcile.ErrAttemptOpen)

	require.Len(t, sender.messages, 1)
	text := sender.messages[0].text
	assert.Contains(t, text, "Выдача прервана")
	assert.Contains(t, text, "Попыток: 1")
	assert.Contains(t, text, "minter release-attempt --yes "+entitlement.Identity)
}

func TestNotifier_SendFailureDoesNotStopBroadcast(t *testing.T) {
	n, sender := newTestNotifier(1, 2, 3)
	sender.failFor = 2

	n.FulfillmentFailed(context.Background(), entitlement, errors.New("timeout"))

	require.Len(t, sender.messages, 2)
	assert.Equal(t, int64(3), sender.messages[1].chatID)
}
