package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/resume-interviewer/internal/config"
	"github.com/nugget/resume-interviewer/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus rather than blocking publishers.
const eventBuffer = 256

// publisher is the part of the connection manager the relay uses.
type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// sensor is a daily counter exposed to Home Assistant.
type sensor struct {
	kind   string
	entity string
	name   string
	icon   string
}

var sensors = []sensor{
	{events.KindTurnComplete, "turns_today", "Turns Today", "mdi:chat-processing"},
	{events.KindProfileCompleted, "completed_today", "Resumes Completed Today", "mdi:file-check"},
	{events.KindProfileReset, "resets_today", "Resets Today", "mdi:restart"},
	{events.KindDocumentMerged, "documents_today", "Documents Merged Today", "mdi:file-upload"},
	{events.KindAnswerRejected, "rejected_answers_today", "Rejected Answers Today", "mdi:alert-circle"},
	{events.KindSafetyFlagged, "safety_flags_today", "Safety Flags Today", "mdi:shield-alert"},
}

// Relay forwards bus events to the broker and publishes the daily
// counters as sensor states.
type Relay struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	bus        *events.Bus
	counters   *DailyCounters
	limiter    *rateLimiter
	logger     *slog.Logger

	mu  sync.Mutex
	cm  *autopaho.ConnectionManager
	pub publisher
}

func (r *Relay) conn() *autopaho.ConnectionManager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cm
}

// New creates a Relay but does not connect. Call [Relay.Start] to begin.
func New(cfg config.MQTTConfig, instanceID string, bus *events.Bus, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")
	return &Relay{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		bus:        bus,
		counters:   NewDailyCounters(nil),
		limiter:    newRateLimiter(int64(cfg.MaxEventsPerMinute), time.Minute, logger),
		logger:     logger,
	}
}

// Start connects to the broker and relays events until ctx is
// cancelled. On every (re-)connect it publishes discovery configs and a
// birth message.
func (r *Relay) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(r.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: r.cfg.Username,
		ConnectPassword: []byte(r.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   r.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			r.logger.Info("mqtt connected to broker", "broker", r.cfg.Broker)
			r.publishDiscovery(ctx, cm)
			r.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			r.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "interviewer-" + r.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	r.mu.Lock()
	r.cm = cm
	r.mu.Unlock()
	r.pub = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		r.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	r.run(ctx)
	return nil
}

// AwaitConnection blocks until the broker connection is up or ctx is
// done. It is the relay's health probe.
func (r *Relay) AwaitConnection(ctx context.Context) error {
	cm := r.conn()
	if cm == nil {
		return errors.New("mqtt relay not started")
	}
	return cm.AwaitConnection(ctx)
}

// Stop publishes "offline" and disconnects.
func (r *Relay) Stop(ctx context.Context) error {
	cm := r.conn()
	if cm == nil {
		return nil
	}
	r.publishAvailability(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

func (r *Relay) run(ctx context.Context) {
	ch := r.bus.Subscribe(eventBuffer, nil)
	defer r.bus.Unsubscribe(ch)

	go r.limiter.run(ctx)

	ticker := time.NewTicker(time.Duration(r.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()
	r.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			r.relay(ctx, e)
		case <-ticker.C:
			r.publishStates(ctx)
		}
	}
}

// --- Topic helpers ---

func (r *Relay) baseTopic() string {
	return "interviewer/" + r.cfg.DeviceName
}

func (r *Relay) availabilityTopic() string {
	return r.baseTopic() + "/availability"
}

func (r *Relay) eventTopic(e events.Event) string {
	return r.baseTopic() + "/events/" + e.Source + "/" + e.Kind
}

func (r *Relay) stateTopic(entity string) string {
	return r.baseTopic() + "/" + entity + "/state"
}

func (r *Relay) discoveryTopic(entity string) string {
	return r.cfg.DiscoveryPrefix + "/sensor/" + r.cfg.DeviceName + "/" + entity + "/config"
}

// --- Events ---

// relay counts the event and forwards it unless the rate limit is hit.
func (r *Relay) relay(ctx context.Context, e events.Event) {
	r.counters.Add(e.Kind)
	if r.pub == nil || !r.limiter.allow() {
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		r.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	if _, err := r.pub.Publish(ctx, &paho.Publish{
		Topic:   r.eventTopic(e),
		Payload: payload,
		QoS:     0,
	}); err != nil {
		r.logger.Debug("mqtt event publish failed", "kind", e.Kind, "error", err)
	}
}

// --- Discovery and state ---

func (r *Relay) sensorConfig(s sensor) SensorConfig {
	return SensorConfig{
		Name:              r.device.Name + " " + s.name,
		UniqueID:          r.instanceID + "_" + s.entity,
		StateTopic:        r.stateTopic(s.entity),
		AvailabilityTopic: r.availabilityTopic(),
		Device:            r.device,
		Icon:              s.icon,
		StateClass:        "total_increasing",
	}
}

func (r *Relay) publishDiscovery(ctx context.Context, pub publisher) {
	for _, s := range sensors {
		topic := r.discoveryTopic(s.entity)
		payload, err := json.Marshal(r.sensorConfig(s))
		if err != nil {
			r.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := pub.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			r.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		}
	}
}

func (r *Relay) publishAvailability(ctx context.Context, pub publisher, status string) {
	if _, err := pub.Publish(ctx, &paho.Publish{
		Topic:   r.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		r.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	r.logger.Info("mqtt availability published", "status", status)
}

func (r *Relay) publishStates(ctx context.Context) {
	if r.pub == nil {
		return
	}
	for _, s := range sensors {
		if _, err := r.pub.Publish(ctx, &paho.Publish{
			Topic:   r.stateTopic(s.entity),
			Payload: []byte(strconv.FormatInt(r.counters.Get(s.kind), 10)),
			Retain:  true,
		}); err != nil {
			r.logger.Debug("mqtt state publish failed", "entity", s.entity, "error", err)
		}
	}
}
