// Package ledger keeps per-user cash and security wallets. Every balance change
// is a guarded UPDATE plus an append-only history row in the same transaction.
package ledger

import (
	"fmt"

	"github.com/Aidin1998/tickex/pkg/errors"
	"github.com/Aidin1998/tickex/pkg/models"
)

// Asset selects a wallet: cash, or the security wallet of one instrument.
type Asset struct {
	InstrumentID int64
}

// Cash is the user's cash wallet.
func Cash() Asset { return Asset{} }

// Security is the user's wallet for instrumentID.
func Security(instrumentID int64) Asset { return Asset{InstrumentID: instrumentID} }

func (a Asset) IsCash() bool { return a.InstrumentID == 0 }

func (a Asset) Kind() models.WalletKind {
	if a.IsCash() {
		return models.WalletCash
	}
	return models.WalletSecurity
}

func (a Asset) String() string {
	if a.IsCash() {
		return "cash"
	}
	return fmt.Sprintf("security:%d", a.InstrumentID)
}

func (a Asset) model() interface{} {
	if a.IsCash() {
		return &models.CashWallet{}
	}
	return &models.SecurityWallet{}
}

func (a Asset) notFound() *errors.Error {
	if a.IsCash() {
		return errors.CashNotFound
	}
	return errors.SecurityNotFound
}

func (a Asset) blocked() *errors.Error {
	if a.IsCash() {
		return errors.CashBlocked
	}
	return errors.SecurityBlocked
}

// history types per movement, indexed by cash/security
var (
	holdType    = [2]models.HistoryType{models.HistoryOrderHold, models.HistorySellOrder}
	releaseType = [2]models.HistoryType{models.HistoryTradeRefund, models.HistorySellOrderCancel}
	payType     = [2]models.HistoryType{models.HistoryTradePayment, models.HistorySellOrderExecuted}
	receiveType = [2]models.HistoryType{models.HistoryTradeReceipt, models.HistoryBuyOrderExecuted}
)

func (a Asset) pick(types [2]models.HistoryType) models.HistoryType {
	if a.IsCash() {
		return types[0]
	}
	return types[1]
}

// Balance is a wallet's position.
type Balance struct {
	WalletID     int64             `json:"wallet_id"`
	Kind         models.WalletKind `json:"kind"`
	UserID       int64             `json:"user_id"`
	InstrumentID int64             `json:"instrument_id,omitempty"`
	Reserve      int64             `json:"reserve"`
	Hold         int64             `json:"hold"`
	Available    int64             `json:"available"`
	Blocked      bool              `json:"blocked"`
}

type wallet struct {
	ID      int64
	UserID  int64
	Reserve int64
	Hold    int64
	Blocked bool
}

func (w *wallet) available() int64 { return w.Reserve - w.Hold }

func (w *wallet) balance(a Asset) *Balance {
	return &Balance{
		WalletID:     w.ID,
		Kind:         a.Kind(),
		UserID:       w.UserID,
		InstrumentID: a.InstrumentID,
		Reserve:      w.Reserve,
		Hold:         w.Hold,
		Available:    w.available(),
		Blocked:      w.Blocked,
	}
}
