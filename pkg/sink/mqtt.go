package sink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fako1024/esf37/pkg/scale"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTTimeout = 10 * time.Second
	mqttDisconnectWait = 250
)

// MQTT denotes a sink publishing each measurement as JSON message to a broker
type MQTT struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

// NewMQTT connects to the broker (e.g. tcp://localhost:1883)
func NewMQTT(broker, clientID, topic string, qos byte, logger scale.Logger) (*MQTT, error) {
	if logger == nil {
		logger = &scale.NullLogger{}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultMQTTTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Infof("connected to MQTT broker %s", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("connection to MQTT broker %s lost: %s", broker, err)
	})

	m := &MQTT{
		client:  mqtt.NewClient(opts),
		topic:   topic,
		qos:     qos,
		timeout: defaultMQTTTimeout,
	}

	token := m.client.Connect()
	if !token.WaitTimeout(m.timeout) {
		m.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: timeout after %v", m.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return m, nil
}

// Append publishes a single measurement
func (m *MQTT) Append(measurement scale.Measurement) error {
	payload, err := encodeMessage(measurement)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.topic, m.qos, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish to %s: timeout after %v", m.topic, m.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", m.topic, err)
	}

	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	m.client.Disconnect(mqttDisconnectWait)
	return nil
}

////////////////////////////////////////////////////////////////////////////////

type message struct {
	TimeStamp string  `json:"timestamp"`
	Weight    float64 `json:"weight_kg"`
}

func encodeMessage(m scale.Measurement) ([]byte, error) {
	weight, err := strconv.ParseFloat(m.FormatWeight(), 64)
	if err != nil {
		return nil, err
	}

	return json.Marshal(message{
		TimeStamp: m.TimeStamp.Format(time.RFC3339),
		Weight:    weight,
	})
}
