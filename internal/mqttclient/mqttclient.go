// internal/mqttclient/mqttclient.go

package mqttclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Bridge publishes bridge telemetry (connection status transitions, raw
// line diagnostics, device config announcements) to an MQTT broker so
// external collaborators can observe the device without linking the
// daemon. Publishing is fire-and-forget at QoS 0.
type Bridge struct {
	log    *slog.Logger
	client mqtt.Client
	prefix string
}

// Envelope is the common message wrapper.
type Envelope struct {
	ApiVersion    string      `json:"apiVersion"`
	CorrelationID string      `json:"correlationID"`
	RequestID     string      `json:"requestID"`
	Payload       interface{} `json:"payload,omitempty"`
	ContentType   string      `json:"contentType"`
}

type statusPayload struct {
	State     string `json:"state"`
	Port      string `json:"port"`
	Timestamp int64  `json:"timestamp"`
}

type linePayload struct {
	Port      string `json:"port"`
	Line      string `json:"line"`
	Timestamp int64  `json:"timestamp"`
}

type deviceConfigPayload struct {
	Sliders int `json:"sliders"`
	Buttons int `json:"buttons"`
}

// New connects to the broker. topicPrefix scopes all published topics
// (e.g. "mixdeck" -> "mixdeck/status").
func New(brokerURL, clientID, topicPrefix string, log *slog.Logger) (*Bridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout: %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &Bridge{
		log:    log.With("component", "mqtt"),
		client: client,
		prefix: topicPrefix,
	}, nil
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}

// PublishStatus announces a connection state transition.
func (b *Bridge) PublishStatus(state, port string) {
	b.publish("status", statusPayload{
		State:     state,
		Port:      port,
		Timestamp: time.Now().UnixNano(),
	})
}

// PublishRawLine forwards one received line for diagnostics.
func (b *Bridge) PublishRawLine(port, line string) {
	b.publish("lines", linePayload{
		Port:      port,
		Line:      line,
		Timestamp: time.Now().UnixNano(),
	})
}

// PublishDeviceConfig announces the controller's slider/button counts.
func (b *Bridge) PublishDeviceConfig(sliders, buttons int) {
	b.publish("device", deviceConfigPayload{Sliders: sliders, Buttons: buttons})
}

func (b *Bridge) publish(subtopic string, payload interface{}) {
	msg := Envelope{
		ApiVersion:    "v1",
		CorrelationID: uuid.NewString(),
		RequestID:     uuid.NewString(),
		Payload:       payload,
		ContentType:   "application/json",
	}
	body, err := json.Marshal(msg)
	if err != nil {
		b.log.Warn("marshal telemetry", "error", err)
		return
	}
	b.client.Publish(b.prefix+"/"+subtopic, 0, false, body)
}
