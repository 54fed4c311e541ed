package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/drop-minter/internal/cardano"
	"github.com/suspectuso/drop-minter/internal/minter"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⏳ Ожидают выдачи", CallbackData: "pending"},
				{Text: "📊 Статистика", CallbackData: "stats"},
			},
			{
				{Text: "✍️ Записать выдачу", CallbackData: "fulfill"},
			},
		},
	}
}

// TxKeyboard links the deposit and fulfillment transactions that are known
func TxKeyboard(ex cardano.Explorer, depositTx, fulfillmentTx string) *models.InlineKeyboardMarkup {
	var row []models.InlineKeyboardButton
	if depositTx != "" {
		row = append(row, models.InlineKeyboardButton{Text: "💸 Платёж", URL: ex.Tx(depositTx)})
	}
	if fulfillmentTx != "" {
		row = append(row, models.InlineKeyboardButton{Text: "🎁 Минт", URL: ex.Tx(fulfillmentTx)})
	}
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row},
	}
}

// PayloadKeyboard offers every catalog variant as an answer
func PayloadKeyboard(catalog *minter.Catalog) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	for _, v := range catalog.Variants {
		text := v.ID
		if v.Name != "" {
			text = v.Name + " (" + v.ID + ")"
		}
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: text, CallbackData: "payload:" + v.ID},
		})
	}

	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "✖️ Отмена", CallbackData: "cancel"},
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// ConfirmRetryKeyboard asks to confirm a repeated issuance
func ConfirmRetryKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Да, выпустить", CallbackData: "retry_confirm"},
				{Text: "✖️ Отмена", CallbackData: "cancel"},
			},
		},
	}
}

// CancelKeyboard returns a simple cancel button
func CancelKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✖️ Отмена", CallbackData: "cancel"},
			},
		},
	}
}

// BackKeyboard returns a simple back button
func BackKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⬅️ Главное меню", CallbackData: "back"},
			},
		},
	}
}
