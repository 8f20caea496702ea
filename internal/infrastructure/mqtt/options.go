package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
)

const (
	connectTimeout          = 10 * time.Second
	operationTimeout        = 5 * time.Second
	keepAlive               = 60 * time.Second
	disconnectQuiesceMillis = 1000

	maxQoS         = 2
	maxPayloadSize = 1 << 20
	tlsMinVersion  = tls.VersionTLS12
)

// buildClientOptions maps the service config onto paho options: one broker
// URL (ssl:// when TLS is on), optional credentials, a clean session and
// automatic reconnects bounded by the configured delays.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers the retained offline will. Drivers watching the
// system status topic hold their reports until the store is back online.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetBinaryWill(topics.SystemStatus(), presencePayload(clientID, "offline", "unexpected_disconnect"), 1, true)
}

type presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// presencePayload encodes a system status message.
func presencePayload(clientID, status, reason string) []byte {
	data, _ := json.Marshal(presence{ //nolint:errchkjson // string fields only
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return data
}
