// Package mqtt connects the ingest engine to an MQTT broker.
package mqtt

import (
	"fmt"
	"log"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/agent-beacon/backend/internal/config"
	"github.com/agent-beacon/backend/internal/ingest"
	"github.com/agent-beacon/backend/internal/protocol"
)

// disconnectQuiesce is how long Close waits for in-flight work, in
// milliseconds, per the paho API.
const disconnectQuiesce = 250

// Client subscribes to the agent topic tree and forwards every delivery to
// the engine, stamped with the local receipt time. Reconnects and
// re-subscribes are handled by the paho client; deliveries during an
// outage are simply missed, which the registry's freshness sweep absorbs.
type Client struct {
	inner pahomqtt.Client
}

// Connect dials the broker and subscribes. The engine's Input channel
// receives deliveries until Close.
func Connect(cfg config.BrokerConfig, engine *ingest.Engine) (*Client, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	input := engine.Input()
	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		input <- ingest.Message{
			Topic:      msg.Topic(),
			Payload:    msg.Payload(),
			ReceivedAt: time.Now(),
		}
	}

	// Subscribe inside OnConnect so the subscription survives reconnects.
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		log.Printf("[mqtt] connected to %s", cfg.URL)
		token := c.Subscribe(protocol.TopicFilter, 0, handler)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("[mqtt] subscribe %s failed: %v", protocol.TopicFilter, err)
			return
		}
		log.Printf("[mqtt] subscribed to %s", protocol.TopicFilter)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Printf("[mqtt] connection lost: %v (reconnecting)", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	return &Client{inner: client}, nil
}

// Close disconnects from the broker, allowing a short quiesce for
// in-flight acknowledgements.
func (c *Client) Close() {
	c.inner.Disconnect(disconnectQuiesce)
	log.Println("[mqtt] disconnected")
}

// IsConnected reports the current broker connection state.
func (c *Client) IsConnected() bool {
	return c.inner.IsConnectionOpen()
}
