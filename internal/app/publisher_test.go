package app

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/tofcal/internal/calstatus"
	"github.com/relabs-tech/tofcal/internal/config"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes. Methods not overridden panic through the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client
	msgs         []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{c.err}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisherPublish(t *testing.T) {
	client := &fakeClient{}
	mc := config.MQTTConfig{Topic: "lab/tof", QoS: 1, Retained: true}
	p := newMQTTPublisher(client, mc, quietLogger())

	st := calstatus.RateTooHigh
	rep := Report{Operation: OpRefSPAD, Device: "tof0", Status: &st}
	if err := p.Publish(rep); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(client.msgs) != 1 {
		t.Fatalf("got %d messages", len(client.msgs))
	}
	m := client.msgs[0]
	if m.topic != "lab/tof/refspad" || m.qos != 1 || !m.retained {
		t.Errorf("message = %s qos=%d retained=%v", m.topic, m.qos, m.retained)
	}

	var got Report
	if err := json.Unmarshal(m.payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Status == nil || *got.Status != st {
		t.Errorf("status round trip = %v, want %s", got.Status, st)
	}

	p.Close()
	if !client.disconnected {
		t.Error("Close did not disconnect")
	}
}

func TestMQTTPublisherError(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := newMQTTPublisher(client, config.MQTTConfig{Topic: "t"}, quietLogger())

	err := p.Publish(Report{Operation: OpOffset})
	if err == nil || !strings.Contains(err.Error(), "t/offset") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewPublisherWithoutBroker(t *testing.T) {
	p, err := NewPublisher(config.MQTTConfig{}, quietLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if _, ok := p.(NopPublisher); !ok {
		t.Fatalf("got %T, want NopPublisher", p)
	}
}
