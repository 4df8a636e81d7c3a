// Package telemetry consumes heartbeat, GPS and auth messages pushed by the
// bikes. Every failure is local to its message: logged, dropped, and the
// loop moves on. The ingestor must outlive any individual bad payload.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyclehub/rental-backend/audit"
	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/internal/events"
	"github.com/cyclehub/rental-backend/order"
	"github.com/cyclehub/rental-backend/session"
	"github.com/cyclehub/rental-backend/trajectory"
)

var messagesCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telemetry_messages_total",
		Help: "Inbound telemetry messages by kind and outcome",
	},
	[]string{"kind", "outcome"},
)

// RegisterMetrics attaches the ingestor's counters to the process registry.
func RegisterMetrics(reg *prometheus.Registry) {
	reg.MustRegister(messagesCounter)
}

type Ingestor struct {
	bikes        *bike.Repository
	orders       *order.Repository
	trajectories *trajectory.Repository
	audits       *audit.Repository
	engine       *session.Engine
	logger       *slog.Logger
}

func NewIngestor(bikes *bike.Repository, orders *order.Repository, trajectories *trajectory.Repository,
	audits *audit.Repository, engine *session.Engine, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		bikes:        bikes,
		orders:       orders,
		trajectories: trajectories,
		audits:       audits,
		engine:       engine,
		logger:       logger,
	}
}

// Run drains the subscription until the channel closes or ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			i.Handle(ctx, m.Topic, m.Payload)
		}
	}
}

// Handle applies one inbound message. Unknown topics and unknown bikes are
// warnings, not errors: devices send stale or misconfigured ids.
func (i *Ingestor) Handle(ctx context.Context, topic string, payload []byte) {
	bikeID, kind, err := parseTopic(topic)
	if err != nil {
		i.logger.Warn("dropping message with unrecognized topic", "topic", topic)
		messagesCounter.WithLabelValues("unknown", "dropped").Inc()
		return
	}

	switch kind {
	case KindHeartbeat:
		i.handleHeartbeat(ctx, bikeID, payload)
	case KindGPS:
		i.handleGPS(ctx, bikeID, payload)
	case KindAuth:
		i.handleAuth(ctx, bikeID, payload)
	default:
		i.logger.Warn("dropping message of unknown kind", "topic", topic, "kind", kind)
		messagesCounter.WithLabelValues("unknown", "dropped").Inc()
	}
}

func (i *Ingestor) handleHeartbeat(ctx context.Context, bikeID int64, payload []byte) {
	p, err := decodeHeartbeat(payload)
	if err != nil {
		i.logger.Warn("dropping malformed heartbeat", "bike_id", bikeID, "error", err)
		messagesCounter.WithLabelValues(KindHeartbeat, "dropped").Inc()
		return
	}

	if _, err := i.bikes.GetByID(ctx, bikeID); err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			i.logger.Warn("heartbeat for unknown bike", "bike_id", bikeID)
			messagesCounter.WithLabelValues(KindHeartbeat, "dropped").Inc()
			return
		}
		i.fail(ctx, KindHeartbeat, bikeID, err)
		return
	}

	// A valid hardware-reported status overwrites ours, even mid-session.
	// Racing the session engine here is accepted; the device is treated as
	// the authority on its own lock state.
	var status *bike.Status
	if s := bike.Status(p.Status); s.Valid() {
		status = &s
	}

	if err := i.bikes.ApplyHeartbeat(ctx, bikeID, float64(p.Lat), float64(p.Lng), p.Battery, status); err != nil {
		i.fail(ctx, KindHeartbeat, bikeID, err)
		return
	}

	messagesCounter.WithLabelValues(KindHeartbeat, "applied").Inc()
	i.logger.Debug("heartbeat applied",
		"bike_id", bikeID, "battery", p.Battery, "status", p.Status)
}

func (i *Ingestor) handleGPS(ctx context.Context, bikeID int64, payload []byte) {
	p, err := decodeGPS(payload)
	if err != nil {
		i.logger.Warn("dropping malformed gps message", "bike_id", bikeID, "error", err)
		messagesCounter.WithLabelValues(KindGPS, "dropped").Inc()
		return
	}

	if _, err := i.bikes.GetByID(ctx, bikeID); err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			i.logger.Warn("gps for unknown bike", "bike_id", bikeID)
			messagesCounter.WithLabelValues(KindGPS, "dropped").Inc()
			return
		}
		i.fail(ctx, KindGPS, bikeID, err)
		return
	}

	if err := i.bikes.ApplyPosition(ctx, bikeID, float64(p.Lat), float64(p.Lng)); err != nil {
		i.fail(ctx, KindGPS, bikeID, err)
		return
	}

	// Breadcrumb for the trajectory trail, tied to the active session when
	// one exists.
	var orderID *int64
	if o, err := i.orders.GetActiveByBike(ctx, bikeID); err == nil {
		orderID = &o.ID
	} else if !errors.Is(err, order.ErrNoActive) {
		i.logger.Warn("could not resolve active order for gps sample", "bike_id", bikeID, "error", err)
	}

	mode := p.Mode
	if mode != trajectory.ModeReal && mode != trajectory.ModeSimulated {
		mode = trajectory.ModeReal
	}
	if err := i.trajectories.Append(ctx, bikeID, orderID, float64(p.Lat), float64(p.Lng), mode); err != nil {
		i.fail(ctx, KindGPS, bikeID, err)
		return
	}

	messagesCounter.WithLabelValues(KindGPS, "applied").Inc()
}

func (i *Ingestor) handleAuth(ctx context.Context, bikeID int64, payload []byte) {
	p, err := decodeAuth(payload)
	if err != nil || p.RFIDUID == "" {
		i.logger.Warn("dropping malformed auth message", "bike_id", bikeID, "error", err)
		messagesCounter.WithLabelValues(KindAuth, "dropped").Inc()
		return
	}

	out := i.engine.Authenticate(ctx, p.RFIDUID, bikeID, p.Action)

	outcome := "denied"
	if out.Success {
		outcome = "granted"
	}
	messagesCounter.WithLabelValues(KindAuth, outcome).Inc()
	i.logger.Info("card authentication handled",
		"bike_id", bikeID, "action", p.Action, "success", out.Success, "message", out.Message)
}

// fail records a persistence error without touching the message loop.
func (i *Ingestor) fail(ctx context.Context, kind string, bikeID int64, err error) {
	i.logger.Error("failed to apply telemetry message", "kind", kind, "bike_id", bikeID, "error", err)
	messagesCounter.WithLabelValues(kind, "error").Inc()

	msg := fmt.Sprintf("failed to apply %s: %v", kind, err)
	if auditErr := i.audits.Append(ctx, &bikeID, audit.TypeError, msg); auditErr != nil {
		i.logger.Error("failed to append error audit entry", "error", auditErr)
	}
}
