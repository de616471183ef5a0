package models

import "time"

// PaymentProviderPayPal - идентификатор платежного провайдера.
const PaymentProviderPayPal = "paypal"

// Plan - запись таблицы цен.
type Plan struct {
	ID             string
	Amount         string
	Currency       string
	DurationMonths int
	Description    string
}

// ProcessedOrder - маркер примененного заказа. Его существование означает,
// что заказ уже принят к исполнению.
type ProcessedOrder struct {
	OrderID       string
	UserID        string
	PlanType      string
	TransactionID string
	PayerID       string
	ProcessedAt   time.Time
}

// PremiumActivated - сообщение для воркера уведомлений.
type PremiumActivated struct {
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PlanType      string    `json:"plan_type"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	TransactionID string    `json:"transaction_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}
