package models

import (
	"time"
)

// TxState is the lifecycle state of an outgoing transaction.
type TxState string

const (
	TxInitiated TxState = "INITIATED"
	TxSent      TxState = "SENT"
	TxCompleted TxState = "COMPLETED"
	TxFailed    TxState = "FAILED"
)

// Valid reports whether s is a known state.
func (s TxState) Valid() bool {
	switch s {
	case TxInitiated, TxSent, TxCompleted, TxFailed:
		return true
	}
	return false
}

// TransactionRecord tracks one payout attempt from creation to chain confirmation.
type TransactionRecord struct {
	ID           string  `gorm:"primaryKey;size:36"`
	State        TxState `gorm:"size:16;index;not null"`
	FromAddress  string  `gorm:"size:256"`
	ToAddress    string  `gorm:"size:256;not null"`
	Amount       int64   `gorm:"not null"`
	TxIdentifier *string `gorm:"size:256;uniqueIndex"`
	ErrorMessage *string
	CreatedAt    time.Time `gorm:"index;not null"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime:false"`
}

// TableName - Return table name
func (t TransactionRecord) TableName() string {
	return "transactions"
}

// Pending reports whether the record still awaits an outcome.
func (t TransactionRecord) Pending() bool {
	return t.State == TxInitiated || t.State == TxSent
}
