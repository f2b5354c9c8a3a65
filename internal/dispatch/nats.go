package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/solar-scheduler/internal/model"
)

// RoutingMode selects how firing messages map onto subjects.
type RoutingMode string

const (
	// RoutingSingle publishes every firing on the output subject.
	RoutingSingle RoutingMode = "single"
	// RoutingDual publishes firings on the output subject and command
	// responses on the response subject.
	RoutingDual RoutingMode = "dual"
	// RoutingFanOut publishes each firing on output.<topic>.
	RoutingFanOut RoutingMode = "fanout"
)

// TransportConfig parameterizes the NATS transport.
type TransportConfig struct {
	CommandSubject  string      `mapstructure:"command_subject"`
	OutputSubject   string      `mapstructure:"output_subject"`
	ResponseSubject string      `mapstructure:"response_subject"`
	Routing         RoutingMode `mapstructure:"routing"`
}

func (c *TransportConfig) withDefaults() TransportConfig {
	cfg := *c
	if cfg.CommandSubject == "" {
		cfg.CommandSubject = "scheduler.cmd"
	}
	if cfg.OutputSubject == "" {
		cfg.OutputSubject = "scheduler.out"
	}
	if cfg.ResponseSubject == "" {
		cfg.ResponseSubject = "scheduler.response"
	}
	if cfg.Routing == "" {
		cfg.Routing = RoutingSingle
	}
	return cfg
}

// Transport connects the dispatcher to NATS: it consumes command
// messages and publishes firing messages and responses. It also
// implements registry.Emitter.
type Transport struct {
	logger *zap.Logger
	nc     *nats.Conn
	d      *Dispatcher
	cfg    TransportConfig

	subs []*nats.Subscription
}

// NewTransport builds a transport over an established connection.
func NewTransport(nc *nats.Conn, d *Dispatcher, cfg TransportConfig, logger *zap.Logger) *Transport {
	return &Transport{
		logger: logger.Named("transport"),
		nc:     nc,
		d:      d,
		cfg:    cfg.withDefaults(),
	}
}

// Start subscribes to the command subject in both forms: the JSON
// body form on the subject itself and the control-topic form on its
// subtree, where the final token is the command and the payload names
// the schedule.
func (t *Transport) Start(ctx context.Context) error {
	sub, err := t.nc.Subscribe(t.cfg.CommandSubject, func(m *nats.Msg) {
		t.handleCommand(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("subscribe to command subject: %w", err)
	}
	t.subs = append(t.subs, sub)

	topicSub, err := t.nc.Subscribe(t.cfg.CommandSubject+".>", func(m *nats.Msg) {
		t.handleControlTopic(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("subscribe to control topics: %w", err)
	}
	t.subs = append(t.subs, topicSub)

	t.logger.Info("command subscription active",
		zap.String("subject", t.cfg.CommandSubject),
		zap.String("routing", string(t.cfg.Routing)))
	return nil
}

// Close drains the subscriptions.
func (t *Transport) Close() {
	for _, sub := range t.subs {
		_ = sub.Unsubscribe()
	}
}

func (t *Transport) handleCommand(ctx context.Context, m *nats.Msg) {
	var req model.CommandRequest
	if err := json.Unmarshal(m.Data, &req); err != nil {
		t.respond(m, &Response{Error: fmt.Sprintf("malformed command: %v", err)})
		return
	}
	t.respond(m, t.d.Execute(ctx, &req))
}

func (t *Transport) handleControlTopic(ctx context.Context, m *nats.Msg) {
	command := strings.TrimPrefix(m.Subject, t.cfg.CommandSubject+".")
	_, payloadIsName, ok := ParseControlTopic(command)
	if !ok {
		t.respond(m, &Response{Command: command, Error: fmt.Sprintf("unknown command '%s'", command)})
		return
	}
	req := &model.CommandRequest{Command: command}
	if payloadIsName {
		req.Name = strings.TrimSpace(string(m.Data))
	}
	t.respond(m, t.d.Execute(ctx, req))
}

func (t *Transport) respond(m *nats.Msg, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("response marshal failed", zap.Error(err))
		return
	}
	if m.Reply != "" {
		if err := m.Respond(data); err != nil {
			t.logger.Error("reply failed", zap.Error(err))
		}
		return
	}
	if t.cfg.Routing == RoutingDual {
		if err := t.nc.Publish(t.cfg.ResponseSubject, data); err != nil {
			t.logger.Error("response publish failed", zap.Error(err))
		}
	}
}

// Send publishes one firing message per the routing mode.
func (t *Transport) Send(msg *model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	subject := t.cfg.OutputSubject
	if t.cfg.Routing == RoutingFanOut && msg.Topic != "" {
		subject = t.cfg.OutputSubject + "." + sanitizeToken(msg.Topic)
	}
	if err := t.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// sanitizeToken makes a topic safe to embed as a NATS subject token.
func sanitizeToken(topic string) string {
	replacer := strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")
	return replacer.Replace(topic)
}
