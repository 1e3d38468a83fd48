package mqttchan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/mqtt"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

// dispatchTimeout bounds one command end to end, controller retries included.
const dispatchTimeout = 30 * time.Second

// Broker is the subset of the MQTT client the channel needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Dispatcher is the router surface the channel needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult
}

// commandMessage is the inbound intent format on <prefix>/command.
type commandMessage struct {
	CorrelationID string   `json:"correlation_id"`
	User          string   `json:"user"`
	Action        string   `json:"action"`
	Target        string   `json:"target"`
	Object        string   `json:"object"`
	Property      string   `json:"property"`
	Value         string   `json:"value"`
	Kind          string   `json:"kind"`
	CategoryHints []string `json:"category_hints"`
}

// resultMessage is published to <prefix>/result/<correlation_id>.
type resultMessage struct {
	CorrelationID string             `json:"correlation_id"`
	Status        router.Status      `json:"status"`
	Target        *catalog.Target    `json:"target,omitempty"`
	Candidates    []router.Candidate `json:"candidates,omitempty"`
	Response      string             `json:"response,omitempty"`
	Error         string             `json:"error,omitempty"`
	DurationMS    int64              `json:"duration_ms"`
}

// Channel bridges broker command messages to the router.
type Channel struct {
	broker     Broker
	dispatcher Dispatcher
	topics     mqtt.Topics
	qos        byte
	logger     *logging.Logger
}

// New creates the channel. Start must be called before messages flow.
func New(broker Broker, dispatcher Dispatcher, topics mqtt.Topics, qos byte, logger *logging.Logger) *Channel {
	return &Channel{
		broker:     broker,
		dispatcher: dispatcher,
		topics:     topics,
		qos:        qos,
		logger:     logger.With("component", "mqttchan"),
	}
}

// Start subscribes to the command topic.
func (c *Channel) Start() error {
	if err := c.broker.Subscribe(c.topics.Command(), c.qos, c.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}
	c.logger.Info("command channel started", "topic", c.topics.Command())
	return nil
}

// handleCommand processes one inbound command message.
func (c *Channel) handleCommand(_ string, payload []byte) error {
	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding command: %w", err)
	}

	action, err := router.ParseAction(msg.Action)
	if err != nil {
		// Without a valid action there is nothing to dispatch; report on
		// the result topic when the publisher gave us a correlation ID.
		if msg.CorrelationID != "" {
			c.publishResult(router.CommandResult{
				CorrelationID: msg.CorrelationID,
				Status:        router.StatusControllerError,
				Error:         err.Error(),
			})
		}
		return err
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = "mqtt-" + uuid.NewString()[:8]
	}
	user := msg.User
	if user == "" {
		user = "mqtt"
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	res := c.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mqtt",
		CorrelationID: msg.CorrelationID,
		User:          user,
		Action:        action,
		Target:        msg.Target,
		Object:        msg.Object,
		Property:      msg.Property,
		Value:         msg.Value,
		Kind:          catalog.Kind(msg.Kind),
		CategoryHints: msg.CategoryHints,
	})

	c.publishResult(res)
	return nil
}

// publishResult sends one result to its correlation topic.
func (c *Channel) publishResult(res router.CommandResult) {
	out, err := json.Marshal(resultMessage{
		CorrelationID: res.CorrelationID,
		Status:        res.Status,
		Target:        res.Target,
		Candidates:    res.Candidates,
		Response:      res.Response,
		Error:         res.Error,
		DurationMS:    res.Duration.Milliseconds(),
	})
	if err != nil {
		c.logger.Error("encoding result", "error", err)
		return
	}

	topic := c.topics.Result(res.CorrelationID)
	if err := c.broker.Publish(topic, out, c.qos, false); err != nil {
		c.logger.Warn("publishing result", "topic", topic, "error", err)
	}
}
