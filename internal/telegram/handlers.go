package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/drop-minter/internal/cardano"
	"github.com/suspectuso/drop-minter/internal/config"
	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/reconcile"
	"github.com/suspectuso/drop-minter/internal/storage"
)

var (
	addrRegex   = regexp.MustCompile(`\b(?:addr|addr_test|stake|stake_test)1[02-9ac-hj-np-z]{20,}\b`)
	txHashRegex = regexp.MustCompile(`\b[0-9a-fA-F]{64}\b`)
)

const maxPendingShown = 20

// Bot is the operator bot. Only chats listed in OPERATOR_CHAT_IDS are served.
// It can send notifications as soon as it is created; commands are served
// once Start hands it the operator actions.
type Bot struct {
	bot      *bot.Bot
	cfg      *config.Config
	ops      *reconcile.Operations
	catalog  *minter.Catalog
	explorer cardano.Explorer
	dialogs  *dialogs
	log      *slog.Logger
}

// New creates a new telegram bot
func New(cfg *config.Config, catalog *minter.Catalog, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:      cfg,
		catalog:  catalog,
		explorer: cardano.NewExplorer(cfg.Network),
		dialogs:  newDialogs(),
		log:      log,
	}

	opts := []bot.Option{
		bot.WithMiddlewares(b.operatorOnly),
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler("", bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypePrefix, b.statusHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/pending", bot.MatchTypeExact, b.pendingHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact, b.statsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/fulfill", bot.MatchTypeExact, b.fulfillHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/retry", bot.MatchTypePrefix, b.retryHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/cancel", bot.MatchTypeExact, b.cancelHandler)

	return b, nil
}

// Start serves operator commands with ops and blocks until ctx is done
func (b *Bot) Start(ctx context.Context, ops *reconcile.Operations) {
	b.ops = ops
	b.bot.Start(ctx)
}

func (b *Bot) operatorOnly(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		chatID, ok := chatIDOf(update)
		if !ok || !b.cfg.IsOperator(chatID) {
			b.log.Warn("ignoring update from non-operator chat", "chat_id", chatID)
			return
		}
		next(ctx, tgBot, update)
	}
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.dialogs.clear(update.Message.From.ID)
	b.sendMessage(ctx, update.Message.Chat.ID, menuText(), MainKeyboard())
}

func (b *Bot) statusHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	addr := extractAddress(update.Message.Text)
	if addr == "" {
		b.sendMessage(ctx, chatID, "Использование: <code>/status addr1…</code> или <code>/status stake1…</code>", nil)
		return
	}

	st, err := b.ops.Status(ctx, addr)
	if err != nil {
		b.sendError(ctx, chatID, "status", err)
		return
	}

	var kb *models.InlineKeyboardMarkup
	if st.State != storage.StateNone {
		kb = TxKeyboard(b.explorer, st.DepositTx, st.FulfillmentTx)
	}
	b.sendMessage(ctx, chatID, formatStatus(st), kb)
}

func (b *Bot) pendingHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, b.pendingText(ctx), BackKeyboard())
}

func (b *Bot) statsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, b.statsText(ctx), BackKeyboard())
}

func (b *Bot) fulfillHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.dialogs.set(update.Message.From.ID, dialog{step: stepIdentity})
	b.sendMessage(ctx, update.Message.Chat.ID, askIdentityText, CancelKeyboard())
}

func (b *Bot) retryHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	msg := update.Message
	addr := extractAddress(msg.Text)
	if addr == "" {
		b.sendMessage(ctx, msg.Chat.ID, "Использование: <code>/retry stake1…</code>", nil)
		return
	}

	st, err := b.ops.Status(ctx, addr)
	if err != nil {
		b.sendError(ctx, msg.Chat.ID, "status", err)
		return
	}
	if st.State != storage.StatePending {
		b.sendMessage(ctx, msg.Chat.ID, formatStatus(st)+"\n\nПовторная выдача возможна только для ожидающих.", nil)
		return
	}

	b.dialogs.set(msg.From.ID, dialog{step: stepConfirmRetry, identity: st.Identity})

	text := fmt.Sprintf(
		"⚠️ <b>Повторная выдача</b>\n\n"+
			"<code>%s</code>\n\n"+
			"Сначала проверь в эксплорере, что прошлая попытка <b>не</b> выпустила ассет. "+
			"Иначе получится второй минт.",
		st.Identity,
	)
	b.sendMessage(ctx, msg.Chat.ID, text, ConfirmRetryKeyboard())
}

func (b *Bot) cancelHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.dialogs.clear(update.Message.From.ID)
	b.sendMessage(ctx, update.Message.Chat.ID, "Отменено.", MainKeyboard())
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	userID := update.Message.From.ID
	text := strings.TrimSpace(update.Message.Text)

	dl, ok := b.dialogs.get(userID)
	if !ok {
		return
	}

	switch dl.step {
	case stepIdentity:
		b.handleWaitIdentity(ctx, update.Message, text)
	case stepTx:
		b.handleWaitTx(ctx, update.Message, text, dl)
	case stepPayload:
		b.recordFulfillment(ctx, update.Message.Chat.ID, userID, text, dl)
	}
}

func (b *Bot) handleWaitIdentity(ctx context.Context, msg *models.Message, text string) {
	addr := extractAddress(text)
	if addr == "" {
		b.sendMessage(ctx, msg.Chat.ID, "❌ Не похоже на адрес Cardano. Попробуй ещё раз.", CancelKeyboard())
		return
	}

	st, err := b.ops.Status(ctx, addr)
	if err != nil {
		b.sendError(ctx, msg.Chat.ID, "status", err)
		return
	}
	if st.State != storage.StatePending {
		b.dialogs.clear(msg.From.ID)
		b.sendMessage(ctx, msg.Chat.ID, formatStatus(st)+"\n\nЗаписать выдачу можно только для ожидающих.", MainKeyboard())
		return
	}

	b.dialogs.set(msg.From.ID, dialog{step: stepTx, identity: st.Identity})

	b.sendMessage(ctx, msg.Chat.ID,
		"🔹 Теперь отправь хеш транзакции минта\n(можно ссылкой на cardanoscan):",
		CancelKeyboard(),
	)
}

func (b *Bot) handleWaitTx(ctx context.Context, msg *models.Message, text string, dl dialog) {
	tx := extractTxHash(text)
	if tx == "" {
		b.sendMessage(ctx, msg.Chat.ID, "❌ Нужен хеш из 64 hex-символов. Попробуй ещё раз.", CancelKeyboard())
		return
	}

	dl.step, dl.tx = stepPayload, tx
	b.dialogs.set(msg.From.ID, dl)

	b.sendMessage(ctx, msg.Chat.ID, "🔹 Какой вариант был выпущен?", PayloadKeyboard(b.catalog))
}

func (b *Bot) recordFulfillment(ctx context.Context, chatID, userID int64, payload string, dl dialog) {
	identity, tx := dl.identity, dl.tx

	err := b.ops.RecordFulfillment(ctx, identity, tx, payload)
	if errors.Is(err, reconcile.ErrUnknownPayload) {
		b.sendMessage(ctx, chatID, "❌ Такого варианта нет в каталоге.", PayloadKeyboard(b.catalog))
		return
	}

	b.dialogs.clear(userID)
	if err != nil {
		b.sendError(ctx, chatID, "record fulfillment", err)
		return
	}

	b.log.Info("fulfillment recorded via bot", "identity", identity, "tx_hash", tx, "operator", userID)
	b.sendMessage(ctx, chatID,
		fmt.Sprintf("✅ Выдача записана\n\n<code>%s</code>\nВариант: <b>%s</b>", identity, html.EscapeString(payload)),
		TxKeyboard(b.explorer, tx, ""),
	)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	userID := cb.From.ID
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	switch {
	case data == "back":
		b.editMessage(ctx, cb.Message, menuText(), MainKeyboard())
	case data == "cancel":
		b.dialogs.clear(userID)
		b.editMessage(ctx, cb.Message, "Отменено.", MainKeyboard())
	case data == "pending":
		b.editMessage(ctx, cb.Message, b.pendingText(ctx), BackKeyboard())
	case data == "stats":
		b.editMessage(ctx, cb.Message, b.statsText(ctx), BackKeyboard())
	case data == "fulfill":
		b.dialogs.set(userID, dialog{step: stepIdentity})
		b.editMessage(ctx, cb.Message, askIdentityText, CancelKeyboard())
	case strings.HasPrefix(data, "payload:"):
		b.handlePayloadChoice(ctx, cb, strings.TrimPrefix(data, "payload:"))
	case data == "retry_confirm":
		b.handleRetryConfirm(ctx, cb)
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", userID)
	}
}

func (b *Bot) handlePayloadChoice(ctx context.Context, cb *models.CallbackQuery, payload string) {
	dl, ok := b.dialogs.get(cb.From.ID)
	if !ok || dl.step != stepPayload || cb.Message.Message == nil {
		return
	}
	b.recordFulfillment(ctx, cb.Message.Message.Chat.ID, cb.From.ID, payload, dl)
}

func (b *Bot) handleRetryConfirm(ctx context.Context, cb *models.CallbackQuery) {
	dl, ok := b.dialogs.get(cb.From.ID)
	if !ok || dl.step != stepConfirmRetry {
		b.editMessage(ctx, cb.Message, "Нечего подтверждать.", MainKeyboard())
		return
	}

	identity := dl.identity
	b.dialogs.clear(cb.From.ID)

	b.log.Warn("retry confirmed via bot", "identity", identity, "operator", cb.From.ID)

	ful, err := b.ops.Retry(ctx, identity)
	if errors.Is(err, reconcile.ErrAttemptOpen) {
		b.editMessage(ctx, cb.Message, "⏳ Для этого адреса уже есть незавершённая выдача. Повтор не выполнен.", MainKeyboard())
		return
	}
	if err != nil {
		b.editMessage(ctx, cb.Message, "❌ Повторная выдача не удалась: "+html.EscapeString(err.Error()), MainKeyboard())
		return
	}

	text := fmt.Sprintf(
		"✅ Выпущено повторно\n\n<code>%s</code>\nВариант: <b>%s</b>",
		identity, html.EscapeString(ful.Variant.ID),
	)
	b.editMessage(ctx, cb.Message, text, TxKeyboard(b.explorer, "", ful.TxHash))
}

// --- Texts ---

const askIdentityText = "✍️ <b>Запись выдачи</b>\n\nОтправь адрес плательщика (<code>addr1…</code> или <code>stake1…</code>):"

func menuText() string {
	return "🛠 <b>Drop Minter</b>\n\n" +
		"/status &lt;адрес&gt; — статус плательщика\n" +
		"/pending — оплачено, но не выдано\n" +
		"/stats — счётчики\n" +
		"/fulfill — записать выдачу, найденную при аудите\n" +
		"/retry &lt;адрес&gt; — выпустить заново\n" +
		"/cancel — отменить ввод"
}

func (b *Bot) pendingText(ctx context.Context) string {
	pending, err := b.ops.Pending(ctx)
	if err != nil {
		b.log.Error("list pending", "error", err)
		return "❌ Не удалось получить список."
	}
	return formatPending(pending)
}

func (b *Bot) statsText(ctx context.Context) string {
	st, err := b.ops.Stats(ctx)
	if err != nil {
		b.log.Error("stats", "error", err)
		return "❌ Не удалось получить статистику."
	}
	return formatStats(st)
}

func formatStatus(st storage.Status) string {
	head := fmt.Sprintf("🔍 <code>%s</code>\n\n", st.Identity)
	switch st.State {
	case storage.StatePending:
		return head + fmt.Sprintf("Статус: <b>⏳ оплачено, ждёт выдачи</b>\nПлатёж: <code>%s</code>", st.DepositTx)
	case storage.StateFulfilled:
		return head + fmt.Sprintf(
			"Статус: <b>✅ выдано</b>\nПлатёж: <code>%s</code>\nМинт: <code>%s</code>\nВариант: <b>%s</b>",
			st.DepositTx, st.FulfillmentTx, html.EscapeString(st.Payload),
		)
	default:
		return head + "Статус: <b>платежа не было</b>"
	}
}

func formatPending(pending []storage.Entitlement) string {
	if len(pending) == 0 {
		return "✅ Все оплаты выданы."
	}

	lines := []string{fmt.Sprintf("⏳ <b>Ожидают выдачи: %d</b>\n", len(pending))}
	for i, e := range pending {
		if i == maxPendingShown {
			lines = append(lines, fmt.Sprintf("…и ещё %d", len(pending)-maxPendingShown))
			break
		}
		lines = append(lines, fmt.Sprintf("• <code>%s</code> — %s, платёж <code>%s</code>",
			e.Identity, e.CreatedAt.UTC().Format("02.01 15:04"), cardano.Short(e.DepositTx, 6)))
	}

	return strings.Join(lines, "\n")
}

func formatStats(st storage.Stats) string {
	return fmt.Sprintf(
		"📊 <b>Статистика</b>\n\n"+
			"Просмотрено платежей: <b>%d</b>\n"+
			"Выдано: <b>%d</b>\n"+
			"Ожидают: <b>%d</b>",
		st.SeenDeposits, st.Fulfilled, st.Pending,
	)
}

// --- Helpers ---

func (b *Bot) sendError(ctx context.Context, chatID int64, op string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrNoIdentity):
		b.sendMessage(ctx, chatID, "❌ У этого адреса нет stake-кредентиала.", nil)
	case errors.Is(err, storage.ErrNotFound):
		b.sendMessage(ctx, chatID, "❌ Для этого адреса нет оплаты.", nil)
	case errors.Is(err, storage.ErrAlreadyFulfilled):
		b.sendMessage(ctx, chatID, "❌ Уже записана другая транзакция выдачи.", nil)
	case errors.Is(err, reconcile.ErrAttemptOpen):
		b.sendMessage(ctx, chatID, "❌ Выдача уже идёт или прервалась. Проверь эксплорер: минт есть — /fulfill, нет — <code>minter release-attempt</code>.", nil)
	default:
		b.log.Error(op, "error", err)
		b.sendMessage(ctx, chatID, "❌ Ошибка: "+html.EscapeString(err.Error()), nil)
	}
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// SendNotification sends a message to a chat
func (b *Bot) SendNotification(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	return err
}

func chatIDOf(update *models.Update) (int64, bool) {
	switch {
	case update.Message != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil:
		if m := update.CallbackQuery.Message.Message; m != nil {
			return m.Chat.ID, true
		}
		return update.CallbackQuery.From.ID, true
	default:
		return 0, false
	}
}

func extractAddress(text string) string {
	return addrRegex.FindString(text)
}

func extractTxHash(text string) string {
	return strings.ToLower(txHashRegex.FindString(text))
}
