// Package lifecycle is the entry point intake channels use to create orders
// and move them through their lifecycle.
package lifecycle

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waiterless/internal/clock"
	"github.com/smallbiznis/waiterless/internal/errs"
	"github.com/smallbiznis/waiterless/internal/eventbus"
	obscontext "github.com/smallbiznis/waiterless/internal/observability/context"
	"github.com/smallbiznis/waiterless/internal/observability/logger"
	"github.com/smallbiznis/waiterless/internal/observability/metrics"
	"github.com/smallbiznis/waiterless/internal/observability/tracing"
	"github.com/smallbiznis/waiterless/internal/order/domain"
	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Publisher sequences committed changes. *eventbus.Bus implements it.
type Publisher interface {
	PublishAll(ctx context.Context, tenantID snowflake.ID, msgs ...eventbus.Message) ([]eventbus.Event, error)
}

// Coordinator validates, commits and publishes every order change. A failure
// before the commit leaves no state change and no event.
type Coordinator struct {
	tenants tenantdomain.Service
	store   domain.Store
	bus     Publisher
	clock   clock.Clock
	log     *zap.Logger
	tracer  trace.Tracer
	engine  *metrics.EngineMetrics
	metrics *metrics.Metrics

	ordering *tenantLocks
}

type Options struct {
	Tenants tenantdomain.Service
	Store   domain.Store
	Bus     Publisher
	Clock   clock.Clock
	Log     *zap.Logger
	Engine  *metrics.EngineMetrics
	Metrics *metrics.Metrics
}

func NewCoordinator(opts Options) *Coordinator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		tenants: opts.Tenants,
		store:   opts.Store,
		bus:     opts.Bus,
		clock:   clk,
		log:     log.Named("lifecycle.coordinator"),
		tracer:  otel.Tracer("waiterless/lifecycle"),
		engine:  opts.Engine,
		metrics: opts.Metrics,

		ordering: newTenantLocks(),
	}
}

// ResolveTenant maps an external key to its tenant context. Reads are allowed
// on inactive tenants.
func (c *Coordinator) ResolveTenant(ctx context.Context, tenantKey string) (tenantdomain.TenantContext, error) {
	return c.tenants.Resolve(ctx, strings.TrimSpace(tenantKey))
}

func (c *Coordinator) activeTenant(ctx context.Context, tenantKey string) (tenantdomain.TenantContext, error) {
	tenant, err := c.ResolveTenant(ctx, tenantKey)
	if err != nil {
		return tenantdomain.TenantContext{}, err
	}
	if err := tenant.RequireActive(); err != nil {
		return tenantdomain.TenantContext{}, err
	}
	return tenant, nil
}

// SubmitDraft creates an order in Draft, binding its table when one is given.
func (c *Coordinator) SubmitDraft(ctx context.Context, tenantKey string, draft domain.DraftOrder) (domain.Order, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.SubmitDraft", trace.WithAttributes(
		attribute.String("channel", string(draft.Channel)),
	))
	defer span.End()

	tenant, err := c.activeTenant(ctx, tenantKey)
	if err != nil {
		return domain.Order{}, c.fail(span, err)
	}
	span.SetAttributes(attribute.String("tenant_id", tenant.ID.String()))
	draft.TaxRateBps = tenant.TaxRateBps

	unlock := c.ordering.lock(tenant.ID)
	// Commits run to completion even when the caller goes away.
	res, err := c.store.Create(context.WithoutCancel(ctx), tenant.ID, draft)
	if err != nil {
		unlock()
		return domain.Order{}, c.fail(span, err)
	}
	msgs := []eventbus.Message{eventbus.OrderMessage(eventbus.KindOrderCreated, res.Order)}
	if res.TableChange == domain.TableClaimed && res.Table != nil {
		msgs = append(msgs, eventbus.TableMessage(eventbus.KindTableOccupied, *res.Table))
	}
	c.publish(ctx, tenant.ID, res.Order, msgs)
	unlock()

	span.SetAttributes(attribute.String("order_id", res.Order.ID.String()))
	c.metrics.RecordOrderSubmitted(ctx, string(res.Order.Channel))

	c.logFor(ctx, tenant).Info("order submitted",
		zap.String("order_id", res.Order.ID.String()),
		zap.String("channel", string(res.Order.Channel)),
		zap.Int64("total", res.Order.Total),
	)
	return res.Order, nil
}

// RequestTransition moves an order one step along its lifecycle. It fails with
// ErrStaleVersion when expectedVersion is not the stored version and with
// ErrInvalidTransition when the step is not legal from the current status.
func (c *Coordinator) RequestTransition(ctx context.Context, tenantKey string, orderID snowflake.ID, req domain.TransitionRequest) (domain.Order, error) {
	ctx, span := c.tracer.Start(ctx, "lifecycle.RequestTransition", trace.WithAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("transition", string(req.Transition)),
		attribute.Int64("expected_version", req.ExpectedVersion),
	))
	defer span.End()

	tr, err := domain.ParseTransition(string(req.Transition))
	if err != nil {
		return domain.Order{}, c.fail(span, err)
	}
	req.Transition = tr
	if err := req.Validate(); err != nil {
		return domain.Order{}, c.fail(span, err)
	}
	tenant, err := c.activeTenant(ctx, tenantKey)
	if err != nil {
		return domain.Order{}, c.fail(span, err)
	}
	span.SetAttributes(attribute.String("tenant_id", tenant.ID.String()))

	current, err := c.store.Get(ctx, tenant.ID, orderID)
	if err != nil {
		return domain.Order{}, c.fail(span, err)
	}
	if current.Version != req.ExpectedVersion {
		c.engine.ObserveTransition(string(current.Status), "", domain.ErrStaleVersion)
		return domain.Order{}, c.fail(span, domain.ErrStaleVersion)
	}
	target, err := domain.NextStatus(current.Status, req.Transition)
	if err != nil {
		c.engine.ObserveTransition(string(current.Status), "", err)
		return domain.Order{}, c.fail(span, err)
	}

	if strings.TrimSpace(req.Actor) == "" {
		req.Actor = "system"
	}
	unlock := c.ordering.lock(tenant.ID)
	res, err := c.store.Commit(context.WithoutCancel(ctx), tenant.ID, orderID, req.ExpectedVersion,
		domain.ApplyTransition(req, c.clock.Now()))
	if err != nil {
		unlock()
		c.engine.ObserveTransition(string(current.Status), string(target), err)
		return domain.Order{}, c.fail(span, err)
	}
	msgs := []eventbus.Message{eventbus.OrderMessage(eventbus.KindForStatus(res.Order.Status), res.Order)}
	if res.TableChange == domain.TableReleased && res.Table != nil {
		msgs = append(msgs, eventbus.TableMessage(eventbus.KindTableReleased, *res.Table))
	}
	c.publish(ctx, tenant.ID, res.Order, msgs)
	unlock()
	c.engine.ObserveTransition(string(current.Status), string(target), nil)

	c.logFor(ctx, tenant).Info("order transitioned",
		zap.String("order_id", orderID.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(res.Order.Status)),
		zap.Int64("version", res.Order.Version),
		zap.String("actor", req.Actor),
	)
	return res.Order, nil
}

// publish runs after a successful commit, under the tenant's ordering lock.
// The commit stands even when publication fails; subscribers recover through
// a snapshot read.
func (c *Coordinator) publish(ctx context.Context, tenantID snowflake.ID, order domain.Order, msgs []eventbus.Message) {
	if c.bus == nil {
		return
	}
	if _, err := c.bus.PublishAll(context.WithoutCancel(ctx), tenantID, msgs...); err != nil {
		c.log.Error("publish after commit failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("order_id", order.ID.String()),
			zap.Int64("version", order.Version),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) GetOrder(ctx context.Context, tenantKey string, orderID snowflake.ID) (domain.Order, error) {
	tenant, err := c.ResolveTenant(ctx, tenantKey)
	if err != nil {
		return domain.Order{}, err
	}
	return c.store.Get(ctx, tenant.ID, orderID)
}

func (c *Coordinator) ListOrders(ctx context.Context, tenantKey string, filter domain.ListFilter) ([]domain.Order, error) {
	tenant, err := c.ResolveTenant(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	return c.store.List(ctx, tenant.ID, filter)
}

func (c *Coordinator) CreateTable(ctx context.Context, tenantKey, label string) (domain.Table, error) {
	tenant, err := c.activeTenant(ctx, tenantKey)
	if err != nil {
		return domain.Table{}, err
	}
	table, err := c.store.CreateTable(ctx, tenant.ID, label)
	if err != nil {
		return domain.Table{}, err
	}
	c.logFor(ctx, tenant).Info("table created",
		zap.String("table_id", table.ID.String()),
		zap.String("label", table.Label),
	)
	return table, nil
}

func (c *Coordinator) UpdateTableLabel(ctx context.Context, tenantKey string, tableID snowflake.ID, label string) (domain.Table, error) {
	tenant, err := c.activeTenant(ctx, tenantKey)
	if err != nil {
		return domain.Table{}, err
	}
	table, err := c.store.UpdateTableLabel(ctx, tenant.ID, tableID, label)
	if err != nil {
		return domain.Table{}, err
	}
	c.logFor(ctx, tenant).Info("table relabelled",
		zap.String("table_id", table.ID.String()),
		zap.String("label", table.Label),
	)
	return table, nil
}

func (c *Coordinator) GetTable(ctx context.Context, tenantKey string, tableID snowflake.ID) (domain.Table, error) {
	tenant, err := c.ResolveTenant(ctx, tenantKey)
	if err != nil {
		return domain.Table{}, err
	}
	return c.store.GetTable(ctx, tenant.ID, tableID)
}

func (c *Coordinator) ListTables(ctx context.Context, tenantKey string) ([]domain.Table, error) {
	tenant, err := c.ResolveTenant(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	return c.store.ListTables(ctx, tenant.ID)
}

// ResolveTableByQR finds the table printed with qrCode.
func (c *Coordinator) ResolveTableByQR(ctx context.Context, tenantKey, qrCode string) (domain.Table, error) {
	tenant, err := c.ResolveTenant(ctx, tenantKey)
	if err != nil {
		return domain.Table{}, err
	}
	return c.store.FindTableByQR(ctx, tenant.ID, strings.TrimSpace(qrCode))
}

func (c *Coordinator) logFor(ctx context.Context, tenant tenantdomain.TenantContext) *zap.Logger {
	return logger.WithContext(obscontext.WithTenantID(ctx, tenant.ID.String()), c.log)
}

func (c *Coordinator) fail(span trace.Span, err error) error {
	span.SetAttributes(attribute.String("error.kind", errs.Kind(err)))
	if !errs.IsLogical(err) {
		span.RecordError(tracing.SafeError(err))
		span.SetStatus(codes.Error, errs.Kind(err))
	}
	return err
}
