// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/config"
)

// Publisher hands finished reports to the outside world.
type Publisher interface {
	Publish(r Report) error
	Close()
}

// NopPublisher drops every report. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(Report) error { return nil }
func (NopPublisher) Close()               {}

// MQTTPublisher publishes reports as JSON to <topic>/<operation>.
type MQTTPublisher struct {
	client   mqtt.Client
	topic    string
	qos      byte
	retained bool
	log      *logrus.Entry
}

// NewMQTTPublisher connects to the configured broker.
func NewMQTTPublisher(mc config.MQTTConfig, log *logrus.Entry) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(mc.Broker).
		SetClientID(mc.ClientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", mc.Broker, token.Error())
	}
	log.Infof("connected to MQTT broker at %s", mc.Broker)

	return newMQTTPublisher(client, mc, log), nil
}

func newMQTTPublisher(client mqtt.Client, mc config.MQTTConfig, log *logrus.Entry) *MQTTPublisher {
	return &MQTTPublisher{
		client:   client,
		topic:    mc.Topic,
		qos:      mc.QoS,
		retained: mc.Retained,
		log:      log,
	}
}

// Publish blocks until the broker acknowledges the report at the configured QoS.
func (p *MQTTPublisher) Publish(r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("report marshal: %w", err)
	}

	topic := p.topic + "/" + r.Operation
	token := p.client.Publish(topic, p.qos, p.retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	p.log.Debugf("published %s report to %s", r.Operation, topic)
	return nil
}

// Close disconnects after giving in-flight messages 250ms.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// NewPublisher returns an MQTTPublisher when a broker is configured and a
// NopPublisher otherwise.
func NewPublisher(mc config.MQTTConfig, log *logrus.Entry) (Publisher, error) {
	if mc.Broker == "" {
		return NopPublisher{}, nil
	}
	p, err := NewMQTTPublisher(mc, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}
