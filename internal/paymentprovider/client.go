// Package paymentprovider - клиент REST API платежного шлюза PayPal
// (Orders v2): создание, чтение и списание заказов.
package paymentprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/metrics"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
)

const (
	tokenPath  = "/v1/oauth2/token"
	ordersPath = "/v2/checkout/orders"

	requestIDHeader = "PayPal-Request-Id"
	maxErrorBody    = 4 << 10
)

// APIError - ответ шлюза с неуспешным статусом.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payment gateway %s: status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Issue возвращает код первой детали ошибки, например ORDER_ALREADY_CAPTURED.
func (e *APIError) Issue() string {
	var resp errorResponse
	if err := json.Unmarshal([]byte(e.Body), &resp); err != nil || len(resp.Details) == 0 {
		return ""
	}
	return resp.Details[0].Issue
}

// IsTimeout сообщает, что исход запроса неизвестен из-за таймаута.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// OrderParams - параметры нового заказа.
type OrderParams struct {
	UserID string
	Plan   models.Plan
}

// Client - клиент шлюза. Безопасен для конкурентного использования.
type Client struct {
	cfg        config.PaymentGateway
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *TokenCache
	tracer     trace.Tracer
	log        *slog.Logger
}

// NewClient создает клиента по настройкам шлюза.
func NewClient(cfg config.PaymentGateway, clk clock.Clock, log *slog.Logger) *Client {
	return newClient(cfg, &http.Client{Timeout: cfg.Timeout}, clk, log)
}

func newClient(cfg config.PaymentGateway, hc *http.Client, clk clock.Clock, log *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		cfg:        cfg,
		httpClient: hc,
		limiter:    rate.NewLimiter(limit, burst),
		tracer:     otel.Tracer("paymentprovider"),
		log:        log,
	}
	c.tokens = NewTokenCache(c.fetchToken, clk, DefaultTokenSkew)
	return c
}

func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	const op = "paymentprovider.fetchToken"
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var tok tokenResponse
	if err := c.send(req, "token", &tok); err != nil {
		return "", 0, fmt.Errorf("%s: %w", op, err)
	}
	c.log.Debug("payment gateway access token refreshed", slog.Int64("expires_in", tok.ExpiresIn))
	return tok.AccessToken, time.Duration(tok.ExpiresIn) * time.Second, nil
}

// CreateOrder создает заказ с intent=CAPTURE на сумму плана. В custom_id
// записываются пользователь и план, чтобы при списании проверить владельца.
func (c *Client) CreateOrder(ctx context.Context, p OrderParams) (*Order, error) {
	const op = "paymentprovider.CreateOrder"
	custom, err := json.Marshal(CustomData{UserID: p.UserID, PlanType: p.Plan.ID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			ReferenceID: p.Plan.ID,
			Description: p.Plan.Description,
			CustomID:    string(custom),
			Amount:      &Money{CurrencyCode: p.Plan.Currency, Value: p.Plan.Amount},
		}},
		ApplicationContext: &applicationContext{
			BrandName:          c.cfg.BrandName,
			ReturnURL:          c.cfg.ReturnURL,
			CancelURL:          c.cfg.CancelURL,
			UserAction:         "PAY_NOW",
			ShippingPreference: "NO_SHIPPING",
		},
	}

	var order Order
	if err := c.do(ctx, "create_order", http.MethodPost, ordersPath, uuid.NewString(), body, &order); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &order, nil
}

// GetOrder возвращает текущее состояние заказа.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	const op = "paymentprovider.GetOrder"
	var order Order
	if err := c.do(ctx, "get_order", http.MethodGet, ordersPath+"/"+url.PathEscape(orderID), "", nil, &order); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &order, nil
}

// CaptureOrder списывает средства по подтвержденному заказу. Идентификатор
// запроса детерминирован по заказу, поэтому повтор после таймаута не
// приводит к второму списанию на стороне шлюза.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	const op = "paymentprovider.CaptureOrder"
	if c.cfg.CaptureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CaptureTimeout)
		defer cancel()
	}
	var order Order
	path := ordersPath + "/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, "capture_order", http.MethodPost, path, "capture-"+orderID, struct{}{}, &order); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, operation, method, path, requestID string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "paymentprovider."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("gateway.operation", operation),
		),
	)
	defer span.End()

	err := c.doOnce(ctx, operation, method, path, requestID, body, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		err = c.doOnce(ctx, operation, method, path, requestID, body, out)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, operation, method, path, requestID string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set(requestIDHeader, requestID)
		req.Header.Set("Prefer", "return=representation")
	}
	return c.send(req, operation, out)
}

func (c *Client) send(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.GatewayRequestDuration.WithLabelValues(operation, "error").Observe(time.Since(start).Seconds())
		return err
	}
	defer resp.Body.Close()
	metrics.GatewayRequestDuration.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Operation: operation, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
