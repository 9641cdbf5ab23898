package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type sentMessage struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	sent         []sentMessage
	token        *fakeToken
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, sentMessage{topic: topic, payload: payload.([]byte)})
	if c.token != nil {
		return c.token
	}
	return &fakeToken{}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTTopics(t *testing.T) {
	c := &fakeClient{}
	m := newMQTT(c, "", Retry{Attempts: 1}, nil)
	if err := m.Publish(WithRunID(context.Background(), "r1"), sampleEvents()); err != nil {
		t.Fatal(err)
	}
	// trip start, two waiting samples, trip end; the done event has no topic
	want := []string{"tramsim/trams/1/events", "tramsim/stops/1/waiting", "tramsim/stops/1/waiting", "tramsim/trams/1/events"}
	if len(c.sent) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(c.sent))
	}
	for i, topic := range want {
		if c.sent[i].topic != topic {
			t.Fatalf("message %d: expected %s, got %s", i, topic, c.sent[i].topic)
		}
	}
	var before, after WaitingSample
	_ = json.Unmarshal(c.sent[1].payload, &before)
	_ = json.Unmarshal(c.sent[2].payload, &after)
	if before.Waiting != 5 || after.Waiting != 0 || before.RunID != "r1" {
		t.Fatalf("unexpected samples %+v %+v", before, after)
	}
	_ = m.Close()
	if !c.disconnected {
		t.Fatalf("client not disconnected")
	}
}

func TestMQTTTimeout(t *testing.T) {
	c := &fakeClient{token: &fakeToken{pending: true}}
	m := newMQTT(c, "city", Retry{Attempts: 2, Timeout: 10 * time.Millisecond, Backoff: time.Millisecond}, nil)
	err := m.Publish(context.Background(), sampleEvents()[:1])
	if !errors.Is(err, ErrMQTTTimeout) {
		t.Fatalf("expected ErrMQTTTimeout, got %v", err)
	}
	if len(c.sent) != 2 || c.sent[0].topic != "city/trams/1/events" {
		t.Fatalf("expected 2 attempts on the tram topic, got %v", c.sent)
	}
}

func TestMQTTBrokerError(t *testing.T) {
	refused := errors.New("not authorized")
	c := &fakeClient{token: &fakeToken{err: refused}}
	m := newMQTT(c, "", Retry{Attempts: 1}, nil)
	if err := m.Publish(context.Background(), sampleEvents()[:1]); !errors.Is(err, refused) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

// stuckToken never completes; Wait reports whether anyone blocked on it.
type stuckToken struct{ waited bool }

func (t *stuckToken) WaitTimeout(time.Duration) bool { return false }
func (t *stuckToken) Error() error                   { return nil }
func (t *stuckToken) Done() <-chan struct{}          { return make(chan struct{}) }

func (t *stuckToken) Wait() bool {
	t.waited = true
	return true
}

type stuckClient struct{ tok *stuckToken }

func (c *stuckClient) Publish(string, byte, bool, interface{}) mqtt.Token { return c.tok }
func (c *stuckClient) Disconnect(uint)                                    {}

func TestMQTTExpiredAttemptDoesNotWaitForever(t *testing.T) {
	tok := &stuckToken{}
	m := newMQTT(&stuckClient{tok: tok}, "", Retry{Attempts: 1, Timeout: time.Nanosecond}, nil)
	err := m.Publish(context.Background(), sampleEvents()[:1])
	if !errors.Is(err, ErrMQTTTimeout) {
		t.Fatalf("expected ErrMQTTTimeout, got %v", err)
	}
	if tok.waited {
		t.Fatalf("publish blocked on an unbounded wait after the attempt deadline")
	}
}
