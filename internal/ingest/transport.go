package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MessageHandler получает входящее сообщение
type MessageHandler func(topic string, payload []byte)

// Transport pub/sub транспорт. Переподключением управляет Bridge.
type Transport interface {
	// Connect устанавливает соединение; lost вызывается при его потере
	Connect(ctx context.Context, lost func(error)) error
	Subscribe(topic string, handler MessageHandler) error
	Disconnect()
}

// MQTTConfig параметры подключения к брокеру
type MQTTConfig struct {
	BrokerURL      string
	ClientIDPrefix string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTTransport Transport поверх paho
type MQTTTransport struct {
	cfg    MQTTConfig
	client mqtt.Client
}

// NewMQTTTransport создает транспорт; соединение открывается в Connect
func NewMQTTTransport(cfg MQTTConfig) *MQTTTransport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "turtle-monitor"
	}
	return &MQTTTransport{cfg: cfg}
}

// Connect создает нового paho клиента на каждую попытку.
// Автопереподключение paho выключено, подписки восстанавливает Bridge.
func (t *MQTTTransport) Connect(ctx context.Context, lost func(error)) error {
	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", t.cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			if lost != nil {
				lost(err)
			}
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.BrokerURL, err)
	}

	t.client = client
	return nil
}

// Subscribe подписывается на топик
func (t *MQTTTransport) Subscribe(topic string, handler MessageHandler) error {
	if t.client == nil {
		return fmt.Errorf("mqtt subscribe %s: not connected", topic)
	}
	token := t.client.Subscribe(topic, t.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Disconnect закрывает соединение, давая 250ms на отправку
func (t *MQTTTransport) Disconnect() {
	if t.client != nil {
		t.client.Disconnect(250)
		t.client = nil
	}
}
