package adapters

import (
	"context"
	"log"
	"sync"
)

// LoggingServoBus is a ServoBus that logs every write instead of driving
// real hardware. It exists for bench/simulation runs without a wired
// servo controller, the same role the teacher's device test mode plays
// for Sonos discovery — a drop-in stand-in, not a production backend.
type LoggingServoBus struct {
	mu        sync.Mutex
	logger    *log.Logger
	telemetry map[int]ChannelTelemetry
}

// NewLoggingServoBus builds a ServoBus backed by nothing but a logger.
func NewLoggingServoBus(logger *log.Logger) *LoggingServoBus {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingServoBus{logger: logger, telemetry: make(map[int]ChannelTelemetry)}
}

func (b *LoggingServoBus) Write(ctx context.Context, channel int, pwmUs int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.telemetry[channel] = ChannelTelemetry{ReportedPWMUs: pwmUs}
	b.logger.Printf("servobus: channel %d -> %dus", channel, pwmUs)
	return nil
}

func (b *LoggingServoBus) Telemetry(ctx context.Context) (map[int]ChannelTelemetry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[int]ChannelTelemetry, len(b.telemetry))
	for k, v := range b.telemetry {
		out[k] = v
	}
	return out, nil
}

// LoggingAudioPlayer is an AudioPlayer that logs cues instead of
// driving a real audio backend.
type LoggingAudioPlayer struct {
	mu      sync.Mutex
	logger  *log.Logger
	counter int
}

func NewLoggingAudioPlayer(logger *log.Logger) *LoggingAudioPlayer {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingAudioPlayer{logger: logger}
}

func (p *LoggingAudioPlayer) Play(ctx context.Context, clipID string, volume float64) (PlayHandle, error) {
	p.mu.Lock()
	p.counter++
	handle := PlayHandle(clipID)
	p.mu.Unlock()
	p.logger.Printf("audio: play %s at volume %.2f", clipID, volume)
	return handle, nil
}

func (p *LoggingAudioPlayer) Fade(ctx context.Context, handle PlayHandle, ms int) error {
	p.logger.Printf("audio: fade %s over %dms", handle, ms)
	return nil
}

func (p *LoggingAudioPlayer) StopAll(ctx context.Context) error {
	p.logger.Printf("audio: stop all")
	return nil
}

func (p *LoggingAudioPlayer) Position(ctx context.Context, handle PlayHandle) (int64, error) {
	return 0, nil
}

// LoggingLightBus is a LightBus that logs cues instead of driving a
// real lighting controller.
type LoggingLightBus struct {
	logger *log.Logger
}

func NewLoggingLightBus(logger *log.Logger) *LoggingLightBus {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingLightBus{logger: logger}
}

func (b *LoggingLightBus) Set(ctx context.Context, zone string, pattern string, params map[string]any) error {
	b.logger.Printf("light: zone %s -> pattern %s %v", zone, pattern, params)
	return nil
}
