package booking

import (
	"math/big"
)

// Slot is one bookable offering of a creator: a named session length with a
// price and the dates/times it can start.
type Slot struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	DurationMinutes int      `json:"durationMinutes"`
	Price           uint64   `json:"price"` // whole tokens; 0 means free
	Dates           []string `json:"dates"` // "2006-01-02"
	Times           []string `json:"times"` // "15:04"
}

func (s Slot) HasDate(date string) bool {
	for _, d := range s.Dates {
		if d == date {
			return true
		}
	}
	return false
}

func (s Slot) HasTime(t string) bool {
	for _, v := range s.Times {
		if v == t {
			return true
		}
	}
	return false
}

// Selection is the mutable draft built up as the user steps through the
// flow. Cleared on full reset.
type Selection struct {
	Slot *Slot  `json:"slot,omitempty"`
	Date string `json:"date,omitempty"`
	Time string `json:"time,omitempty"`
}

// Recipient identifies the creator being booked.
type Recipient struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"` // hex; may be empty when the creator has no wallet
}

// RequiredAmount derives the payment requirement from the slot price in the
// token's base units. Deterministic; zero signifies a free booking.
func RequiredAmount(price uint64, decimals int) *big.Int {
	amount := new(big.Int).SetUint64(price)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return amount.Mul(amount, scale)
}
