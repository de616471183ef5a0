package paymentprovider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Статусы заказа.
const (
	StatusCreated             = "CREATED"
	StatusSaved               = "SAVED"
	StatusApproved            = "APPROVED"
	StatusVoided              = "VOIDED"
	StatusCompleted           = "COMPLETED"
	StatusPayerActionRequired = "PAYER_ACTION_REQUIRED"
)

// CaptureCompleted - статус успешного списания.
const CaptureCompleted = "COMPLETED"

// Issue-коды ошибок 422, которые обрабатываются отдельно.
const (
	IssueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	IssueOrderNotApproved     = "ORDER_NOT_APPROVED"
)

// Money - сумма в валюте. Value - десятичная строка, как ее вернул шлюз.
type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Link - HATEOAS-ссылка заказа.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// Capture - списание по заказу.
type Capture struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     *Money `json:"amount,omitempty"`
	CustomID   string `json:"custom_id,omitempty"`
	CreateTime string `json:"create_time,omitempty"`
}

// Payments - платежи по единице покупки.
type Payments struct {
	Captures []Capture `json:"captures,omitempty"`
}

// PurchaseUnit - единица покупки заказа.
type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Amount      *Money    `json:"amount,omitempty"`
	Payments    *Payments `json:"payments,omitempty"`
}

// Payer - плательщик.
type Payer struct {
	PayerID      string `json:"payer_id,omitempty"`
	EmailAddress string `json:"email_address,omitempty"`
}

// Order - заказ платежного шлюза.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Intent        string         `json:"intent,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Payer         *Payer         `json:"payer,omitempty"`
	Links         []Link         `json:"links,omitempty"`
}

// CustomData - данные, которые сервис кладет в custom_id заказа при его
// создании. По ним при списании проверяется, кому принадлежит заказ.
type CustomData struct {
	UserID   string `json:"userId"`
	PlanType string `json:"planType"`
}

// ApproveURL возвращает ссылку, по которой покупатель подтверждает оплату.
func (o *Order) ApproveURL() string {
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// Custom разбирает custom_id первой единицы покупки.
func (o *Order) Custom() (CustomData, error) {
	var cd CustomData
	if len(o.PurchaseUnits) == 0 || o.PurchaseUnits[0].CustomID == "" {
		return cd, errors.New("order has no custom_id")
	}
	if err := json.Unmarshal([]byte(o.PurchaseUnits[0].CustomID), &cd); err != nil {
		return cd, fmt.Errorf("invalid custom_id: %w", err)
	}
	return cd, nil
}

// Amount возвращает сумму первой единицы покупки.
func (o *Order) Amount() (Money, bool) {
	if len(o.PurchaseUnits) == 0 || o.PurchaseUnits[0].Amount == nil {
		return Money{}, false
	}
	return *o.PurchaseUnits[0].Amount, true
}

// CompletedCapture возвращает первое успешное списание.
func (o *Order) CompletedCapture() (Capture, bool) {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for _, c := range pu.Payments.Captures {
			if c.Status == CaptureCompleted {
				return c, true
			}
		}
	}
	return Capture{}, false
}

// PayerID возвращает идентификатор плательщика или пустую строку.
func (o *Order) PayerID() string {
	if o.Payer == nil {
		return ""
	}
	return o.Payer.PayerID
}

type applicationContext struct {
	BrandName          string `json:"brand_name,omitempty"`
	ReturnURL          string `json:"return_url,omitempty"`
	CancelURL          string `json:"cancel_url,omitempty"`
	UserAction         string `json:"user_action,omitempty"`
	ShippingPreference string `json:"shipping_preference,omitempty"`
}

type createOrderRequest struct {
	Intent             string              `json:"intent"`
	PurchaseUnits      []PurchaseUnit      `json:"purchase_units"`
	ApplicationContext *applicationContext `json:"application_context,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}
