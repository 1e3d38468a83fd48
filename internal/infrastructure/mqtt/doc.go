// Package mqtt wraps paho.mqtt.golang for the bridge's broker connection.
//
// The wrapper keeps a registry of active subscriptions so they survive
// reconnects, publishes a retained online/offline status message under the
// configured topic prefix, and registers a Last Will so the broker announces
// an unexpected disconnect on the same topic.
package mqtt
