package mqtt

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Publisher is the transport surface the dispatcher needs; satisfied by
// *Client and by fakes in tests.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Dispatcher serializes outbound commands and auth responses onto
// bike-addressed topics. Fire-and-forget: failures are logged, never
// retried, never surfaced to the session engine.
type Dispatcher struct {
	pub    Publisher
	logger *slog.Logger
}

func NewDispatcher(pub Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{pub: pub, logger: logger}
}

type commandMessage struct {
	Action    string `json:"action"`
	OrderID   *int64 `json:"order_id"`
	Timestamp string `json:"timestamp"`
}

type responseMessage struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
	Balance   *float64 `json:"balance,omitempty"`
	OrderID   *int64   `json:"order_id,omitempty"`
}

// Command publishes an instruction to server/<bikeAddr>/command.
func (d *Dispatcher) Command(bikeAddr, action string, orderID *int64) {
	msg := commandMessage{
		Action:    action,
		OrderID:   orderID,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	d.publish(fmt.Sprintf("server/%s/command", bikeAddr), msg)
}

// Respond publishes an authentication response to server/<bikeID>/response.
func (d *Dispatcher) Respond(bikeID int64, success bool, message string, balance *decimal.Decimal, orderID *int64) {
	msg := responseMessage{
		Success:   success,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
		OrderID:   orderID,
	}
	if balance != nil {
		f := balance.InexactFloat64()
		msg.Balance = &f
	}
	d.publish(fmt.Sprintf("server/%s/response", strconv.FormatInt(bikeID, 10)), msg)
}

func (d *Dispatcher) publish(topic string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error("failed to marshal outbound message", "topic", topic, "error", err)
		return
	}
	if err := d.pub.Publish(topic, payload); err != nil {
		d.logger.Error("failed to publish outbound message", "topic", topic, "error", err)
	}
}
