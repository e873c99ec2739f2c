package booking

import (
	"fmt"
	"time"
)

// ReceiptTTL is how long a booking stays claimable: the escrow contract
// refunds the depositor if the recipient never accepts within this window.
const ReceiptTTL = 24 * time.Hour

// Receipt is the application-level record of a completed booking, free or
// paid, independent of the backing store.
type Receipt struct {
	ID               string    `json:"id"`
	PersonName       string    `json:"personName"`
	PersonID         string    `json:"personId"`
	SlotName         string    `json:"slotName"`
	Price            uint64    `json:"price"`
	Date             string    `json:"date"`
	Time             string    `json:"time"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	EscrowID         *int64    `json:"escrowId,omitempty"`
	TxHash           string    `json:"txHash,omitempty"`
	DepositorAddress string    `json:"depositorAddress,omitempty"`
	RecipientAddress string    `json:"recipientAddress,omitempty"`
}

// ChainConfirmation is the on-chain outcome a paid receipt is built from.
type ChainConfirmation struct {
	EscrowID         int64
	TxHash           string
	DepositorAddress string
	RecipientAddress string
}

// BuildFreeReceipt assembles a receipt for a zero-price booking. token is a
// caller-generated identifier; no escrow fields are set.
func BuildFreeReceipt(sel Selection, rcpt Recipient, token string, now time.Time) Receipt {
	return Receipt{
		ID:         "FREE-" + token,
		PersonName: rcpt.Name,
		PersonID:   rcpt.ID,
		SlotName:   sel.Slot.Name,
		Price:      0,
		Date:       sel.Date,
		Time:       sel.Time,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ReceiptTTL),
	}
}

// BuildPaidReceipt assembles a receipt from a confirmed deposit.
func BuildPaidReceipt(sel Selection, rcpt Recipient, conf ChainConfirmation, now time.Time) Receipt {
	id := conf.EscrowID
	return Receipt{
		ID:               fmt.Sprintf("ESC-%d", conf.EscrowID),
		PersonName:       rcpt.Name,
		PersonID:         rcpt.ID,
		SlotName:         sel.Slot.Name,
		Price:            sel.Slot.Price,
		Date:             sel.Date,
		Time:             sel.Time,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ReceiptTTL),
		EscrowID:         &id,
		TxHash:           conf.TxHash,
		DepositorAddress: conf.DepositorAddress,
		RecipientAddress: conf.RecipientAddress,
	}
}
