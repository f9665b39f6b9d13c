package domain

import "time"

type Review struct {
	ID            string
	TransactionID string
	ReviewerName  string
	Text          string
	CreatedAt     time.Time
}
