package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tramsim/sim"
)

// ErrMQTTTimeout is returned when the broker does not acknowledge in time.
var ErrMQTTTimeout = errors.New("mqtt operation timed out")

// mqttClient mirrors the subset of mqtt.Client used here.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// WaitingSample is the payload of a stop waiting-count message.
type WaitingSample struct {
	RunID   string  `json:"run_id,omitempty"`
	StopID  int     `json:"stop_id"`
	Time    float64 `json:"time"`
	Waiting int     `json:"waiting"`
	TramID  int     `json:"tram_id"`
}

// MQTT publishes the two waiting samples of every stop visit to
// <prefix>/stops/<id>/waiting and trip lifecycle events to <prefix>/trams/<id>/events.
type MQTT struct {
	c      mqttClient
	prefix string
	qos    byte
	retry  Retry
	log    *slog.Logger
}

// DialMQTT connects to broker and returns a publisher for topic prefix.
func DialMQTT(broker, clientID, prefix string, retry Retry, log *slog.Logger) (*MQTT, error) {
	retry = retry.orDefault()
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(retry.Timeout).
		SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(retry.Timeout) {
		return nil, fmt.Errorf("%w: connect %s", ErrMQTTTimeout, broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return newMQTT(c, prefix, retry, log), nil
}

func newMQTT(c mqttClient, prefix string, retry Retry, log *slog.Logger) *MQTT {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "tramsim"
	}
	return &MQTT{c: c, prefix: prefix, qos: 1, retry: retry.orDefault(), log: log}
}

func (m *MQTT) Publish(ctx context.Context, events []sim.Event) error {
	runID := RunIDFrom(ctx)
	sent := 0
	for _, e := range events {
		switch ev := e.(type) {
		case sim.StopVisitEvent:
			topic := fmt.Sprintf("%s/stops/%d/waiting", m.prefix, ev.Visit.StopID)
			for _, waiting := range []int{ev.Visit.WaitingBefore, ev.WaitingAfter} {
				sample := WaitingSample{RunID: runID, StopID: ev.Visit.StopID, Time: ev.Visit.Time, Waiting: waiting, TramID: ev.TramID}
				payload, err := json.Marshal(sample)
				if err != nil {
					return err
				}
				if err := m.send(ctx, topic, payload); err != nil {
					return err
				}
				sent++
			}
		case sim.TripStartEvent, sim.TripEndEvent, sim.TripAbandonedEvent:
			payload, err := Encode(runID, e)
			if err != nil {
				return err
			}
			if err := m.send(ctx, fmt.Sprintf("%s/trams/%d/events", m.prefix, sim.EventTramID(e)), payload); err != nil {
				return err
			}
			sent++
		}
	}
	m.log.Info("published", "sink", "mqtt", "run", runID, "messages", sent)
	return nil
}

func (m *MQTT) send(ctx context.Context, topic string, payload []byte) error {
	err := m.retry.do(ctx, func(ctx context.Context) error {
		tok := m.c.Publish(topic, m.qos, false, payload)
		deadline, bounded := ctx.Deadline()
		switch {
		case bounded:
			wait := time.Until(deadline)
			if wait <= 0 || !tok.WaitTimeout(wait) {
				return fmt.Errorf("%w: publish %s", ErrMQTTTimeout, topic)
			}
		case m.retry.Timeout > 0:
			if !tok.WaitTimeout(m.retry.Timeout) {
				return fmt.Errorf("%w: publish %s", ErrMQTTTimeout, topic)
			}
		default:
			tok.Wait()
		}
		return tok.Error()
	})
	if err != nil {
		m.log.Error("mqtt publish failed", "topic", topic, "err", err)
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() error {
	m.c.Disconnect(250)
	return nil
}
