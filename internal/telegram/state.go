package telegram

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// step is where an operator is in a multi-message command
type step int

const (
	stepIdentity step = iota + 1 // /fulfill: waiting for the payer address
	stepTx                       // /fulfill: waiting for the mint tx hash
	stepPayload                  // /fulfill: waiting for the variant
	stepConfirmRetry             // /retry: waiting for the confirm button
)

// dialog is an operator's unfinished /fulfill or /retry
type dialog struct {
	step     step
	identity string
	tx       string
}

const (
	maxDialogs = 64
	dialogTTL  = 15 * time.Minute
)

// dialogs holds one dialog per operator. Abandoned dialogs expire, so a
// stale confirm button cannot trigger a retry hours later.
type dialogs struct {
	lru *expirable.LRU[int64, dialog]
}

func newDialogs() *dialogs {
	return &dialogs{lru: expirable.NewLRU[int64, dialog](maxDialogs, nil, dialogTTL)}
}

func (d *dialogs) get(userID int64) (dialog, bool) {
	return d.lru.Get(userID)
}

func (d *dialogs) set(userID int64, dl dialog) {
	d.lru.Add(userID, dl)
}

func (d *dialogs) clear(userID int64) {
	d.lru.Remove(userID)
}
