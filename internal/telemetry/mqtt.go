package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"obd2-service/internal/logger"
)

const (
	DefaultUpdateInterval = 10 * time.Second
	DefaultClientID       = "obd2-service"
)

// Config holds the MQTT publisher settings. An empty Broker disables
// telemetry entirely.
type Config struct {
	Broker         string
	ClientID       string
	Topic          string
	UpdateInterval time.Duration
}

// Publisher periodically serializes a signal snapshot and pushes it to an
// MQTT broker. It is best-effort: publish failures are logged, never fatal.
type Publisher struct {
	config     Config
	logger     *logger.Logger
	client     mqtt.Client
	stopChan   chan struct{}
	dataSource func() json.Marshaler
}

// NewPublisher builds a publisher over a snapshot source. The source is
// called once per interval on the publishing goroutine.
func NewPublisher(config Config, dataSource func() json.Marshaler, l *logger.Logger) *Publisher {
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = DefaultUpdateInterval
	}
	return &Publisher{
		config:     config,
		logger:     l.WithTag("mqtt"),
		stopChan:   make(chan struct{}),
		dataSource: dataSource,
	}
}

func (p *Publisher) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		p.logger.Infof("Connected to MQTT broker %s", p.config.Broker)
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		p.logger.Warnf("MQTT connection lost: %v", err)
	})

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connection failed: %w", token.Error())
	}
	return nil
}

// StartPublishing runs the periodic snapshot loop until Stop.
func (p *Publisher) StartPublishing() {
	p.logger.Infof("Publishing telemetry to %s every %v", p.config.Topic, p.config.UpdateInterval)

	go func() {
		ticker := time.NewTicker(p.config.UpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.publishSnapshot()
			}
		}
	}()
}

func (p *Publisher) Stop() {
	close(p.stopChan)
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func (p *Publisher) publishSnapshot() {
	snapshot := p.dataSource()
	data, err := snapshot.MarshalJSON()
	if err != nil {
		p.logger.Errorf("Failed to serialize telemetry snapshot: %v", err)
		return
	}

	token := p.client.Publish(p.config.Topic, 0, false, data)
	if token.Wait() && token.Error() != nil {
		p.logger.Warnf("Failed to publish telemetry: %v", token.Error())
		return
	}
	p.logger.Debugf("Published telemetry snapshot (%d bytes)", len(data))
}
