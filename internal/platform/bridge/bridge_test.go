package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeMQTT implements only what MQTTSink calls; the embedded interface
// panics on anything else.
type fakeMQTT struct {
	mqtt.Client
	mu           sync.Mutex
	msgs         []published
	err          error
	disconnected bool
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newFakeToken(f.err)
}

func (f *fakeMQTT) Disconnect(uint) {
	f.disconnected = true
}

type fakeNATS struct {
	subject string
	data    []byte
	flushed bool
	drained bool
	err     error
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subject, f.data = subject, data
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error {
	f.flushed = true
	return nil
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func TestMQTTSink_PublishRetainedQoS1(t *testing.T) {
	client := &fakeMQTT{}
	sink := newMQTTSink(client, "clinicq/display")

	if err := sink.Publish(context.Background(), []byte(`{"rooms":[]}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "clinicq/display" || msg.qos != 1 || !msg.retained {
		t.Errorf("unexpected publish %+v", msg)
	}

	sink.Close()
	if !client.disconnected {
		t.Error("expected disconnect on close")
	}
}

func TestMQTTSink_PublishError(t *testing.T) {
	client := &fakeMQTT{err: errors.New("not connected")}
	sink := newMQTTSink(client, "t")
	if err := sink.Publish(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected error")
	}
}

func TestNATSSink(t *testing.T) {
	conn := &fakeNATS{}
	sink := &NATSSink{conn: conn, subject: "clinicq.display"}

	if err := sink.Publish(context.Background(), []byte("board")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if conn.subject != "clinicq.display" || string(conn.data) != "board" || !conn.flushed {
		t.Errorf("unexpected nats state %+v", conn)
	}
	sink.Close()
	if !conn.drained {
		t.Error("expected drain on close")
	}
}

func TestFanout_ContinuesPastFailingSink(t *testing.T) {
	bad := &NATSSink{conn: &fakeNATS{err: errors.New("down")}, subject: "s"}
	good := &fakeMQTT{}
	fan := NewFanout(zerolog.Nop(), bad, newMQTTSink(good, "t"))

	err := fan.Publish(context.Background(), []byte("board"))
	if err == nil {
		t.Fatal("expected joined error from failing sink")
	}
	if len(good.msgs) != 1 {
		t.Errorf("expected healthy sink to receive the board, got %d messages", len(good.msgs))
	}
	if fan.Len() != 2 {
		t.Errorf("expected 2 sinks, got %d", fan.Len())
	}
}
