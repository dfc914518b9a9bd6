// Package remote bridges the view package's global style broadcasts
// onto MQTT, so an external control surface — a hardware fader bank,
// a companion mobile app — can mirror and drive process-wide visual
// state. It generalizes the raw TCP request/ack protocol in the
// teacher's gfx/skgrid/remote.go (Remote.Send over a plain net.Conn)
// to a pub/sub transport, since paho.mqtt.golang was already one
// dependency away in the teacher's module graph.
package remote

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/audiowave/wavecore/view"
	"github.com/audiowave/wavecore/visual"
)

// Topics published under this bridge's prefix.
const (
	topicShape         = "visual/shape"
	topicLogscaled     = "visual/logscaled"
	topicGradientDepth = "visual/gradient_depth"
	topicClipping      = "visual/clipping"
	topicClipLevel     = "visual/clip_level"
)

// Bridge publishes Style values to an MQTT broker and applies incoming
// gradient-depth and logscaled messages back onto the Style — letting a
// remote control surface both observe and drive global visual
// properties.
type Bridge struct {
	client mqtt.Client
	style  *view.Style
	prefix string
}

// Config configures a new Bridge.
type Config struct {
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Prefix   string // topic prefix, defaults to "wavecore"
}

// New connects to the configured broker and returns a Bridge. The
// Bridge publishes only when one of its Publish methods is called; it
// does not observe Style mutations on its own.
func New(style *view.Style, cfg Config) (*Bridge, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "wavecore"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("remote: connect to %s: %w", cfg.Broker, token.Error())
	}

	b := &Bridge{client: client, style: style, prefix: prefix}
	b.subscribeControl()
	return b, nil
}

// PublishShapeChanged publishes the current global shape. Call this
// from the same site that calls Style.SetGlobalShape.
func (b *Bridge) PublishShapeChanged() {
	b.publish(topicShape, b.style.GlobalShape() == visual.Rectified)
}

// PublishLogscaledChanged publishes the current global logscaled flag.
func (b *Bridge) PublishLogscaledChanged() {
	b.publish(topicLogscaled, b.style.GlobalLogscaled())
}

// PublishGradientDepthChanged publishes the current gradient depth.
func (b *Bridge) PublishGradientDepthChanged() {
	b.publish(topicGradientDepth, b.style.GlobalGradientDepth())
}

// PublishClipLevelChanged publishes both the clipping-indicator flag
// and the clip level coefficient, mirroring the fact that both are
// delivered through Ardour's single ClipLevelChanged signal.
func (b *Bridge) PublishClipLevelChanged() {
	b.publish(topicClipping, b.style.GlobalShowClipIndicator())
	b.publish(topicClipLevel, b.style.ClipLevel())
}

func (b *Bridge) publish(topic string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	b.client.Publish(b.prefix+"/"+topic, 0, false, payload)
}

// subscribeControl lets a remote surface drive the style by
// publishing to the same topics this bridge publishes on.
func (b *Bridge) subscribeControl() {
	b.client.Subscribe(b.prefix+"/"+topicGradientDepth, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var depth float64
		if json.Unmarshal(msg.Payload(), &depth) == nil {
			b.style.SetGlobalGradientDepth(depth)
		}
	})
	b.client.Subscribe(b.prefix+"/"+topicLogscaled, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var yn bool
		if json.Unmarshal(msg.Payload(), &yn) == nil {
			b.style.SetGlobalLogscaled(yn)
		}
	})
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.client.Disconnect(250)
}
