package model

import (
	"time"
)

type TopupOrder struct {
	ID             string      `db:"id" json:"id"`
	AccountID      string      `db:"account_id" json:"accountId"`
	AmountCents    int64       `db:"amount_cents" json:"amountCents"`
	Currency       string      `db:"currency" json:"currency"`
	Status         TopupStatus `db:"status" json:"status"`
	PaymentChannel *string     `db:"payment_channel" json:"paymentChannel,omitempty"`
	ReferenceNo    *string     `db:"reference_no" json:"referenceNo,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	ConfirmedAt    *time.Time  `db:"confirmed_at" json:"confirmedAt,omitempty"`
}

type CreateTopupParams struct {
	AccountID      string
	AmountCents    int64
	Currency       string
	PaymentChannel *string
	ReferenceNo    *string
}
