// Package billing проводит оплату премиума через платежный шлюз: создает
// заказ и идемпотентно списывает его с применением подписки ровно один раз.
//
// Единственный механизм взаимного исключения - условная запись маркера
// обработанного заказа. Маркер пишется до изменения пользователя; если
// процесс упал между этими шагами, повторный вызов с тем же заказом
// доприменит подписку.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/magabrotheeeer/resume-entitlement/internal/apperr"
	"github.com/magabrotheeeer/resume-entitlement/internal/config"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/clock"
	"github.com/magabrotheeeer/resume-entitlement/internal/lib/sl"
	"github.com/magabrotheeeer/resume-entitlement/internal/metrics"
	"github.com/magabrotheeeer/resume-entitlement/internal/models"
	"github.com/magabrotheeeer/resume-entitlement/internal/paymentprovider"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/entitlement"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/idempotency"
	"github.com/magabrotheeeer/resume-entitlement/internal/services/ratelimit"
	"github.com/magabrotheeeer/resume-entitlement/internal/storage/kv"
)

// EndpointOrder - эндпоинт лимита на создание заказов.
const EndpointOrder = "billing-order"

// Поля маркера обработанного заказа.
const (
	FieldUserID        = "userId"
	FieldPlanType      = "planType"
	FieldTransactionID = "transactionId"
	FieldPayerID       = "payerId"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
)

const notifyTimeout = 5 * time.Second

var orderIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// MarkerKey возвращает ключ маркера для заказа.
func MarkerKey(orderID string) string {
	return "paypal-processed:" + orderID
}

// Gateway - операции платежного шлюза.
type Gateway interface {
	CreateOrder(ctx context.Context, p paymentprovider.OrderParams) (*paymentprovider.Order, error)
	GetOrder(ctx context.Context, orderID string) (*paymentprovider.Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*paymentprovider.Order, error)
}

// Entitlements - чтение и выдача подписки.
type Entitlements interface {
	Load(ctx context.Context, userID string) (*models.User, entitlement.Status, error)
	Upgrade(ctx context.Context, userID string, plan models.Plan, p entitlement.Payment) (*models.User, bool, error)
}

// RateLimiter - лимитер запросов.
type RateLimiter interface {
	Check(ctx context.Context, subject, endpoint string, rule ratelimit.Rule) ratelimit.Result
	Refund(ctx context.Context, subject, endpoint string, rule ratelimit.Rule) error
}

// Notifier отправляет подтверждение об активации премиума.
type Notifier interface {
	PremiumActivated(ctx context.Context, msg models.PremiumActivated) error
}

// OrderResult - созданный заказ.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	ApprovalURL string `json:"approvalUrl"`
	Status      string `json:"status"`
}

// CaptureResult - результат списания.
type CaptureResult struct {
	OrderID       string     `json:"orderId"`
	Duplicate     bool       `json:"duplicate"`
	PlanType      string     `json:"planType,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Coordinator - координатор оплаты.
type Coordinator struct {
	gateway   Gateway
	ent       Entitlements
	limiter   RateLimiter
	markers   *idempotency.Gate[string]
	notifier  Notifier
	plans     map[string]config.Plan
	orderRule ratelimit.Rule
	clock     clock.Clock
	tracer    trace.Tracer
	log       *slog.Logger
}

// NewCoordinator создает Coordinator. Маркеры заказов хранятся в таблице
// table хранилища store в течение retention. notifier может быть nil.
func NewCoordinator(
	gw Gateway,
	ent Entitlements,
	limiter RateLimiter,
	store kv.Store,
	table string,
	retention time.Duration,
	notifier Notifier,
	plans map[string]config.Plan,
	orderRule ratelimit.Rule,
	clk clock.Clock,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		gateway:   gw,
		ent:       ent,
		limiter:   limiter,
		markers:   idempotency.NewGate(store, table, MarkerKey, retention, clk),
		notifier:  notifier,
		plans:     plans,
		orderRule: orderRule,
		clock:     clk,
		tracer:    otel.Tracer("billing"),
		log:       log,
	}
}

// Plan возвращает план из таблицы цен.
func (c *Coordinator) Plan(planType string) (models.Plan, bool) {
	p, ok := c.plans[planType]
	if !ok || p.DurationMonths <= 0 {
		return models.Plan{}, false
	}
	return models.Plan{
		ID:             planType,
		Amount:         p.Amount,
		Currency:       p.Currency,
		DurationMonths: p.DurationMonths,
		Description:    p.Description,
	}, true
}

// CreateOrder создает заказ у шлюза и возвращает ссылку для подтверждения
// оплаты покупателем. Локально сохраняется только счетчик лимита.
func (c *Coordinator) CreateOrder(ctx context.Context, userID, planType string) (OrderResult, error) {
	const op = "services.billing.CreateOrder"
	log := c.log.With(slog.String("op", op), slog.String("user_id", userID), slog.String("plan", planType))

	plan, ok := c.Plan(planType)
	if !ok {
		return OrderResult{}, apperr.Validation(apperr.CodeInvalidPlan, "invalid plan type")
	}

	rl := c.limiter.Check(ctx, userID, EndpointOrder, c.orderRule)
	if !rl.Allowed {
		return OrderResult{}, apperr.RateLimited(rl.ResetAt)
	}

	res, err := c.createOrder(ctx, userID, plan)
	if err != nil {
		if apperr.IsKind(err, apperr.KindTransient) || apperr.IsKind(err, apperr.KindGateway) {
			_ = c.limiter.Refund(ctx, userID, EndpointOrder, c.orderRule)
			log.Error("failed to create order", sl.Err(err))
		}
		return OrderResult{}, fmt.Errorf("%s: %w", op, err)
	}

	metrics.OrdersCreated.WithLabelValues(plan.ID).Inc()
	log.Info("payment order created", slog.String("order_id", res.OrderID))
	return res, nil
}

func (c *Coordinator) createOrder(ctx context.Context, userID string, plan models.Plan) (OrderResult, error) {
	_, st, err := c.ent.Load(ctx, userID)
	if err != nil {
		return OrderResult{}, err
	}
	if st.IsPremium {
		return OrderResult{}, apperr.Validation(apperr.CodeAlreadySubscribed, "You already have an active Premium subscription.")
	}

	order, err := c.gateway.CreateOrder(ctx, paymentprovider.OrderParams{UserID: userID, Plan: plan})
	if err != nil {
		return OrderResult{}, apperr.Gateway("failed to create payment order", err)
	}
	approve := order.ApproveURL()
	if approve == "" {
		return OrderResult{}, apperr.Gateway("payment order has no approval link", errors.New("missing approve link"))
	}
	return OrderResult{OrderID: order.ID, ApprovalURL: approve, Status: order.Status}, nil
}

// CaptureOrder списывает подтвержденный заказ и выдает подписку. Повторные
// и конкурентные вызовы для одного заказа возвращают Duplicate=true и не
// применяют подписку повторно.
func (c *Coordinator) CaptureOrder(ctx context.Context, orderID, callerID string) (res CaptureResult, err error) {
	const op = "services.billing.CaptureOrder"
	log := c.log.With(slog.String("op", op), slog.String("order_id", orderID), slog.String("user_id", callerID))

	ctx, span := c.tracer.Start(ctx, "billing.CaptureOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() {
		span.SetAttributes(attribute.Bool("capture.duplicate", res.Duplicate))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			metrics.Captures.WithLabelValues(captureOutcome(err)).Inc()
		} else if res.Duplicate {
			metrics.Captures.WithLabelValues("duplicate").Inc()
		} else {
			metrics.Captures.WithLabelValues("applied").Inc()
		}
		span.End()
	}()

	if !orderIDPattern.MatchString(orderID) {
		return CaptureResult{}, apperr.Validation(apperr.CodeInvalidOrder, "invalid order id")
	}

	// 1. быстрый путь: заказ уже обработан
	marker, found, err := c.markers.Lookup(ctx, orderID)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to check order marker", err))
	}
	if found {
		return c.duplicate(ctx, log, orderID, callerID, marker)
	}

	// 2-3. проверка статуса и списание
	captured, err := c.capture(ctx, log, orderID, callerID)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("%s: %w", op, err)
	}

	// 4-5. владелец и сумма
	v, err := c.verify(log, captured, callerID)
	if err != nil {
		return CaptureResult{}, fmt.Errorf("%s: %w", op, err)
	}

	// 6. маркер - точка идемпотентности
	won, err := c.markers.Acquire(ctx, orderID, kv.Item{
		FieldUserID:        callerID,
		FieldPlanType:      v.plan.ID,
		FieldTransactionID: v.capture.ID,
		FieldPayerID:       captured.PayerID(),
		FieldAmount:        v.amount.Value,
		FieldCurrency:      v.amount.CurrencyCode,
	})
	if err != nil {
		log.Error("payment captured but marker write failed", slog.String("transaction_id", v.capture.ID), sl.Err(err))
		return CaptureResult{}, fmt.Errorf("%s: %w", op, apperr.Transient("failed to record processed order", err))
	}
	if !won {
		log.Info("order processed by a concurrent request")
		marker, found, err := c.markers.Lookup(ctx, orderID)
		if err != nil || !found {
			return CaptureResult{OrderID: orderID, Duplicate: true, PlanType: v.plan.ID, TransactionID: v.capture.ID}, nil
		}
		return c.duplicate(ctx, log, orderID, callerID, marker)
	}

	// 7. подписка
	u, applied, err := c.ent.Upgrade(ctx, callerID, v.plan, entitlement.Payment{
		Provider:      models.PaymentProviderPayPal,
		PayerID:       captured.PayerID(),
		TransactionID: v.capture.ID,
	})
	if err != nil {
		log.Error("order marked as processed but upgrade failed, retry will reconcile",
			slog.String("transaction_id", v.capture.ID), sl.Err(err))
		return CaptureResult{}, fmt.Errorf("%s: %w", op, err)
	}

	// 8. уведомление
	if applied {
		c.notify(ctx, log, u, v.plan, v.capture.ID)
	}

	log.Info("payment captured, premium activated",
		slog.String("plan", v.plan.ID),
		slog.String("transaction_id", v.capture.ID),
		slog.Bool("applied_here", applied))
	return CaptureResult{
		OrderID:       orderID,
		Duplicate:     false,
		PlanType:      v.plan.ID,
		TransactionID: v.capture.ID,
		ExpiresAt:     u.SubscriptionExpiration,
	}, nil
}

// capture проверяет статус заказа и списывает его. Заказ в статусе
// COMPLETED со списанием в деталях считается уже списанным этим же
// сервисом (например, после таймаута ответа) и проверяется без повторного
// списания.
func (c *Coordinator) capture(ctx context.Context, log *slog.Logger, orderID, callerID string) (*paymentprovider.Order, error) {
	order, err := c.gateway.GetOrder(ctx, orderID)
	if err != nil {
		var apiErr *paymentprovider.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, apperr.Validation(apperr.CodeInvalidOrder, "order not found")
		}
		return nil, apperr.Gateway("failed to fetch order details", err)
	}

	switch order.Status {
	case paymentprovider.StatusApproved:
	case paymentprovider.StatusCompleted:
		if _, ok := order.CompletedCapture(); ok {
			log.Info("order already captured at the gateway, verifying captured details")
			return order, nil
		}
		return nil, apperr.Validation(apperr.CodeOrderNotApproved, "order is not approved for capture")
	default:
		return nil, apperr.Validation(apperr.CodeOrderNotApproved,
			fmt.Sprintf("order is not approved for capture (status %s)", order.Status))
	}

	// заказ без метаданных, с чужим владельцем или неизвестным планом
	// не списывается вовсе
	cd, err := order.Custom()
	if err != nil {
		log.Warn("approved order has no billing metadata, refusing capture", sl.Err(err))
		return nil, apperr.Validation(apperr.CodeInvalidOrder, "order has no billing metadata")
	}
	if cd.UserID != callerID {
		return nil, c.hijack(log, cd.UserID)
	}
	if _, ok := c.Plan(cd.PlanType); !ok {
		return nil, apperr.Validation(apperr.CodeInvalidPlan, "invalid plan type")
	}

	captured, err := c.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		if paymentprovider.IsTimeout(err) {
			log.Warn("capture timed out, outcome unknown", sl.Err(err))
			return nil, apperr.OutcomeUnknown("Payment status is not confirmed yet. Please retry the capture request.", err)
		}
		var apiErr *paymentprovider.APIError
		if errors.As(err, &apiErr) && apiErr.Issue() == paymentprovider.IssueOrderAlreadyCaptured {
			refreshed, getErr := c.gateway.GetOrder(ctx, orderID)
			if getErr != nil {
				return nil, apperr.Gateway("failed to fetch captured order", getErr)
			}
			captured = refreshed
		} else {
			return nil, apperr.Gateway("failed to capture order", err)
		}
	}
	if captured.Status != paymentprovider.StatusCompleted {
		return nil, apperr.Validation(apperr.CodeCaptureNotCompleted,
			fmt.Sprintf("payment was not completed (status %s)", captured.Status))
	}
	mergeOrderDetails(captured, order)
	return captured, nil
}

// mergeOrderDetails дополняет ответ на списание данными заказа, которые
// шлюз мог в нем не вернуть.
func mergeOrderDetails(captured, order *paymentprovider.Order) {
	if captured.Payer == nil {
		captured.Payer = order.Payer
	}
	if len(captured.PurchaseUnits) == 0 || len(order.PurchaseUnits) == 0 {
		return
	}
	dst, src := &captured.PurchaseUnits[0], order.PurchaseUnits[0]
	if dst.CustomID == "" {
		dst.CustomID = src.CustomID
	}
	if dst.Amount == nil {
		dst.Amount = src.Amount
	}
}

type verified struct {
	plan    models.Plan
	capture paymentprovider.Capture
	amount  paymentprovider.Money
}

func (c *Coordinator) verify(log *slog.Logger, order *paymentprovider.Order, callerID string) (verified, error) {
	cd, err := order.Custom()
	if err != nil {
		return verified{}, apperr.Validation(apperr.CodeInvalidOrder, "order has no billing metadata")
	}
	if cd.UserID != callerID {
		return verified{}, c.hijack(log, cd.UserID)
	}

	plan, ok := c.Plan(cd.PlanType)
	if !ok {
		return verified{}, apperr.Validation(apperr.CodeInvalidPlan, "invalid plan type")
	}

	capture, ok := order.CompletedCapture()
	if !ok {
		return verified{}, apperr.Validation(apperr.CodeCaptureNotCompleted, "payment was not completed")
	}
	var amount paymentprovider.Money
	if capture.Amount != nil {
		amount = *capture.Amount
	} else if a, ok := order.Amount(); ok {
		amount = a
	}
	if amount.Value != plan.Amount || amount.CurrencyCode != plan.Currency {
		log.Warn("captured amount does not match plan price",
			slog.Bool("security_event", true),
			slog.String("plan", plan.ID),
			slog.String("expected", plan.Amount+" "+plan.Currency),
			slog.String("captured", amount.Value+" "+amount.CurrencyCode),
			slog.String("transaction_id", capture.ID))
		return verified{}, apperr.Validation(apperr.CodeAmountMismatch, "payment amount does not match plan price")
	}
	return verified{plan: plan, capture: capture, amount: amount}, nil
}

func (c *Coordinator) hijack(log *slog.Logger, ownerID string) error {
	log.Warn("capture attempted for another user's order",
		slog.Bool("security_event", true),
		slog.String("order_owner", ownerID))
	return apperr.Integrity(apperr.CodeUserMismatch, "order does not belong to the current user")
}

// duplicate отвечает на повторный вызов для уже обработанного заказа.
// Если маркер есть, а подписка по нему не применена (сбой между записью
// маркера и изменением пользователя), подписка доприменяется.
func (c *Coordinator) duplicate(ctx context.Context, log *slog.Logger, orderID, callerID string, marker kv.Item) (CaptureResult, error) {
	if owner := marker.String(FieldUserID); owner != callerID {
		return CaptureResult{}, c.hijack(log, owner)
	}
	txID := marker.String(FieldTransactionID)
	res := CaptureResult{
		OrderID:       orderID,
		Duplicate:     true,
		PlanType:      marker.String(FieldPlanType),
		TransactionID: txID,
	}

	u, _, err := c.ent.Load(ctx, callerID)
	if err != nil {
		return CaptureResult{}, err
	}
	if !needsReconcile(u, txID, marker.Int(idempotency.FieldProcessedAt)) {
		res.ExpiresAt = u.SubscriptionExpiration
		return res, nil
	}

	plan, ok := c.Plan(res.PlanType)
	if !ok {
		log.Error("processed order references unknown plan", slog.String("plan", res.PlanType))
		return res, nil
	}
	u, applied, err := c.ent.Upgrade(ctx, callerID, plan, entitlement.Payment{
		Provider:      models.PaymentProviderPayPal,
		PayerID:       marker.String(FieldPayerID),
		TransactionID: txID,
	})
	if err != nil {
		return CaptureResult{}, err
	}
	if applied {
		log.Warn("processed order was not applied, subscription reconciled", slog.String("transaction_id", txID))
		c.notify(ctx, log, u, plan, txID)
	}
	res.ExpiresAt = u.SubscriptionExpiration
	return res, nil
}

// needsReconcile: транзакция маркера не записана пользователю и после
// создания маркера пользователь не получал другой подписки.
func needsReconcile(u *models.User, txID string, processedAt int64) bool {
	if txID == "" || u.LastTransactionID == txID {
		return false
	}
	if u.SubscriptionStartDate != nil && u.SubscriptionStartDate.Unix() >= processedAt {
		return false
	}
	return true
}

func (c *Coordinator) notify(ctx context.Context, log *slog.Logger, u *models.User, plan models.Plan, txID string) {
	if c.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	msg := models.PremiumActivated{
		UserID:        u.ID,
		Email:         u.Email,
		Name:          u.Name,
		PlanType:      plan.ID,
		Amount:        plan.Amount,
		Currency:      plan.Currency,
		TransactionID: txID,
	}
	if u.SubscriptionExpiration != nil {
		msg.ExpiresAt = *u.SubscriptionExpiration
	}
	if err := c.notifier.PremiumActivated(nctx, msg); err != nil {
		metrics.NotificationsSent.WithLabelValues("premium_activated", "error").Inc()
		log.Warn("failed to send premium confirmation", sl.Err(err))
		return
	}
	metrics.NotificationsSent.WithLabelValues("premium_activated", "queued").Inc()
}

func captureOutcome(err error) string {
	e, ok := apperr.As(err)
	if !ok {
		return "error"
	}
	switch e.Kind {
	case apperr.KindIntegrity:
		return "integrity_violation"
	case apperr.KindValidation:
		return "rejected"
	case apperr.KindGateway:
		if e.Code == apperr.CodeCaptureUnknown {
			return "unknown"
		}
		return "gateway_error"
	default:
		return "error"
	}
}
