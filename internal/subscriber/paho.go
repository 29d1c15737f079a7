package subscriber

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kiranshivaraju/eventgate/internal/config"
)

const disconnectQuiesceMillis = 250

// PahoTransport is the Transport backed by the Eclipse Paho client.
// paho retries a failed first dial every ReconnectPeriod and reconnects on
// its own after a drop. The Manager learns of success through OnConnect.
type PahoTransport struct {
	cfg config.MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
}

func NewPahoTransport(cfg config.MQTTConfig) *PahoTransport {
	return &PahoTransport{cfg: cfg}
}

func (t *PahoTransport) options(hooks Hooks) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.BrokerURL())
	opts.SetClientID(t.cfg.ClientID)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}

	opts.SetKeepAlive(t.cfg.KeepAlive)
	opts.SetConnectTimeout(t.cfg.ConnectTimeout)
	opts.SetCleanSession(false)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(t.cfg.ReconnectPeriod)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(t.cfg.ReconnectPeriod)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		if hooks.OnConnect != nil {
			hooks.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if hooks.OnConnectionLost != nil {
			hooks.OnConnectionLost(err)
		}
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		slog.Info("mqtt reconnecting", "broker", t.cfg.BrokerURL())
	})
	return opts
}

// Connect dials the broker unless the client is connected or paho is
// already retrying. If the first attempt has not finished within
// ConnectTimeout, Connect returns nil and leaves paho retrying in the
// background.
func (t *PahoTransport) Connect(ctx context.Context, hooks Hooks) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		t.client = mqtt.NewClient(t.options(hooks))
	}
	if t.client.IsConnected() {
		return nil
	}

	slog.Info("mqtt connecting", "broker", t.cfg.BrokerURL(), "client_id", t.cfg.ClientID)
	token := t.client.Connect()
	wait := time.NewTimer(t.cfg.ConnectTimeout)
	defer wait.Stop()
	select {
	case <-token.Done():
	case <-wait.C:
		slog.Warn("mqtt connect pending, retrying in background",
			"broker", t.cfg.BrokerURL(), "retry_interval", t.cfg.ReconnectPeriod)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", t.cfg.BrokerURL(), err)
	}
	return nil
}

func (t *PahoTransport) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return fmt.Errorf("mqtt subscribe %s: not connected", topic)
	}

	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Disconnect closes the connection and discards the client.
func (t *PahoTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client != nil {
		t.client.Disconnect(disconnectQuiesceMillis)
		t.client = nil
	}
}
