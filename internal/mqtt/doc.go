// Package mqtt relays interview lifecycle events to an MQTT broker and
// exposes daily interview counters as Home Assistant sensors.
//
// The relay uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes retained discovery config payloads for each counter sensor
// and a birth message ("online") to the availability topic. A will
// message moves the availability topic to "offline" on unexpected
// disconnects.
//
// Each bus event is published as JSON, unretained, to
// interviewer/<device>/events/<source>/<kind>. Subjects are never part
// of a topic so broker ACLs and retained state do not leak identities.
package mqtt
