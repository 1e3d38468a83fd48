// Package mqttchan is the broker-facing command channel.
//
// Other systems publish command intents as JSON to <prefix>/command; each
// dispatch result is published to <prefix>/result/<correlation_id>. Messages
// without a correlation ID get one assigned so the result topic is always
// addressable, but the publisher then has to discover it from the result
// payload.
package mqttchan
