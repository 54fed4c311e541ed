package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/drop-minter/internal/cardano"
	"github.com/suspectuso/drop-minter/internal/config"
	"github.com/suspectuso/drop-minter/internal/reconcile"
	"github.com/suspectuso/drop-minter/internal/storage"
	"github.com/suspectuso/drop-minter/internal/telegram"
)

// Sender delivers a formatted message to one chat
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) error
}

// Notifier alerts operators about every fulfillment attempt
type Notifier struct {
	sender   Sender
	chatIDs  []int64
	explorer cardano.Explorer
	log      *slog.Logger
}

// New creates a new Notifier
func New(cfg *config.Config, sender Sender, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		chatIDs:  cfg.OperatorChatIDs,
		explorer: cardano.NewExplorer(cfg.Network),
		log:      log,
	}
}

// Fulfilled reports an issued and recorded asset
func (n *Notifier) Fulfilled(ctx context.Context, e storage.Entitlement, f reconcile.Fulfillment) {
	n.log.Debug("notifying fulfillment", "identity", e.Identity, "tx_hash", f.TxHash)
	n.broadcast(ctx, n.formatFulfilled(e, f), telegram.TxKeyboard(n.explorer, e.DepositTx, f.TxHash))
}

// FulfillmentFailed reports a paid entitlement that is left without a recorded fulfillment
func (n *Notifier) FulfillmentFailed(ctx context.Context, e storage.Entitlement, err error) {
	n.log.Debug("notifying failed fulfillment", "identity", e.Identity, "error", err)

	var uerr *reconcile.UnrecordedError
	if errors.As(err, &uerr) {
		n.broadcast(ctx, n.formatUnrecorded(e, uerr), telegram.TxKeyboard(n.explorer, e.DepositTx, uerr.Fulfillment.TxHash))
		return
	}
	if errors.Is(err, reconcile.ErrAttemptOpen) {
		n.broadcast(ctx, n.formatInterrupted(e), telegram.TxKeyboard(n.explorer, e.DepositTx, ""))
		return
	}
	n.broadcast(ctx, n.formatFailed(e, err), telegram.TxKeyboard(n.explorer, e.DepositTx, ""))
}

func (n *Notifier) broadcast(ctx context.Context, text string, keyboard *models.InlineKeyboardMarkup) {
	for _, chatID := range n.chatIDs {
		if err := n.sender.SendNotification(ctx, chatID, text, keyboard); err != nil {
			n.log.Error("send operator notification", "chat_id", chatID, "error", err)
		}
	}
}

func (n *Notifier) formatFulfilled(e storage.Entitlement, f reconcile.Fulfillment) string {
	variant := f.Variant.ID
	if f.Variant.Name != "" {
		variant = f.Variant.Name
	}

	return fmt.Sprintf(
		"🎁 <b>Выдано</b>\n\n"+
			"%s\n"+
			"Вариант: <b>%s</b>\n\n"+
			"<code>%s</code>",
		n.payerLink(e), html.EscapeString(variant),
		f.TxHash,
	)
}

func (n *Notifier) formatFailed(e storage.Entitlement, err error) string {
	lines := []string{
		"🟥 <b>Выдача не удалась</b>",
		"",
		n.payerLink(e),
		fmt.Sprintf("Платёж: <code>%s</code>", e.DepositTx),
		"",
		fmt.Sprintf("Ошибка: <code>%s</code>", html.EscapeString(err.Error())),
		"",
		"Оплата сохранена как ожидающая, автоматически повторять не буду.",
		fmt.Sprintf("Проверь эксплорер, затем <code>/retry %s</code>", e.Identity),
	}
	return strings.Join(lines, "\n")
}

func (n *Notifier) formatUnrecorded(e storage.Entitlement, uerr *reconcile.UnrecordedError) string {
	f := uerr.Fulfillment
	lines := []string{
		"⚠️ <b>Выпущено, но не записано</b>",
		"",
		n.payerLink(e),
		fmt.Sprintf("Минт: <code>%s</code>", f.TxHash),
		fmt.Sprintf("Вариант: <b>%s</b>", html.EscapeString(f.Variant.ID)),
		"",
		fmt.Sprintf("Ошибка: <code>%s</code>", html.EscapeString(uerr.Err.Error())),
		"",
		"<b>Не повторяй выдачу.</b> Запиши её через /fulfill или",
		fmt.Sprintf("<code>minter mark-fulfilled %s %s %s</code>", e.Identity, f.TxHash, f.Variant.ID),
	}
	return strings.Join(lines, "\n")
}

func (n *Notifier) formatInterrupted(e storage.Entitlement) string {
	lines := []string{
		"⚠️ <b>Выдача прервана</b>",
		"",
		n.payerLink(e),
		fmt.Sprintf("Платёж: <code>%s</code>", e.DepositTx),
		fmt.Sprintf("Попыток: %d", e.Attempts),
		"",
		"Неизвестно, был ли выпущен ассет. Проверь эксплорер:",
		"если минт есть, запиши его через /fulfill;",
		fmt.Sprintf("если нет, <code>minter release-attempt --yes %s</code>, затем /retry.", e.Identity),
	}
	return strings.Join(lines, "\n")
}

func (n *Notifier) payerLink(e storage.Entitlement) string {
	return fmt.Sprintf("<a href='%s'>%s</a>", n.explorer.Address(e.Identity), cardano.Short(e.Identity, 10))
}
