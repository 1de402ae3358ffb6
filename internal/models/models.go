package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole controls access to the admin endpoints.
type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// OrderDirection is the side an order trades on.
type OrderDirection string

const (
	DirectionBuy  OrderDirection = "BUY"
	DirectionSell OrderDirection = "SELL"
)

// Contra returns the opposite side of the book.
func (d OrderDirection) Contra() OrderDirection {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusNew               OrderStatus = "NEW"
	StatusPartiallyExecuted OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted          OrderStatus = "EXECUTED"
	StatusCancelled         OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transition is permitted out of s.
func (s OrderStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled
}

// CanTransition reports whether the order state machine permits from -> to.
// Repeated fills keep a partially executed order in the same state, so the
// PARTIALLY_EXECUTED self-transition is allowed.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case StatusNew:
		return to == StatusPartiallyExecuted || to == StatusExecuted || to == StatusCancelled
	case StatusPartiallyExecuted:
		return to == StatusPartiallyExecuted || to == StatusExecuted || to == StatusCancelled
	default:
		return false
	}
}

// User represents a registered account.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"` // bcrypt hash, never serialized
	Role      UserRole  `json:"role"`
	Deleted   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Instrument is a tradable asset in the catalog.
type Instrument struct {
	Ticker    string    `json:"ticker"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is one user's holding of one ticker. Blocked is the portion
// reserved against resting limit orders.
type Balance struct {
	UserID    uuid.UUID `json:"user_id"`
	Ticker    string    `json:"ticker"`
	Amount    int64     `json:"amount"`
	Blocked   int64     `json:"blocked_amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available returns the spendable portion of the balance.
func (b *Balance) Available() int64 {
	return b.Amount - b.Blocked
}

// Order is a buy or sell request against one instrument. Price is nil for
// market orders; market orders never rest in the book.
type Order struct {
	ID        int64          `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Direction OrderDirection `json:"direction"`
	Ticker    string         `json:"ticker"`
	Qty       int64          `json:"qty"`
	Price     *int64         `json:"price,omitempty"`
	Filled    int64          `json:"filled"`
	Status    OrderStatus    `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsLimit reports whether the order carries a limit price.
func (o *Order) IsLimit() bool {
	return o.Price != nil
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Transaction is one fill event, recorded against the resting counterparty
// at the maker's price. Append-only.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Ticker    string    `json:"ticker"`
	Amount    int64     `json:"amount"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceLevel is one aggregated rung of the order book.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

// OrderBook is an aggregated snapshot: bids descending, asks ascending.
type OrderBook struct {
	BidLevels []PriceLevel `json:"bid_levels"`
	AskLevels []PriceLevel `json:"ask_levels"`
}
