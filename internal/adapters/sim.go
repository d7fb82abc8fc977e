package adapters

import (
	"context"
	"sync"
)

// SimServoBus is an in-memory ServoBus that performs no real I/O. It
// never fails unless FailChannel is set, mirroring the
// teacher's pattern of test-mode services that skip real I/O
// (devices.Service.SetTestMode).
type SimServoBus struct {
	mu           sync.Mutex
	writes       map[int]int
	telemetry    map[int]ChannelTelemetry
	FailChannel  map[int]error
}

// NewSimServoBus creates an empty simulated bus.
func NewSimServoBus() *SimServoBus {
	return &SimServoBus{
		writes:    make(map[int]int),
		telemetry: make(map[int]ChannelTelemetry),
	}
}

func (s *SimServoBus) Write(ctx context.Context, channel int, pwmUs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailChannel != nil {
		if err, ok := s.FailChannel[channel]; ok && err != nil {
			return err
		}
	}
	s.writes[channel] = pwmUs
	t := s.telemetry[channel]
	t.ReportedPWMUs = pwmUs
	s.telemetry[channel] = t
	return nil
}

func (s *SimServoBus) Telemetry(ctx context.Context) (map[int]ChannelTelemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]ChannelTelemetry, len(s.telemetry))
	for k, v := range s.telemetry {
		out[k] = v
	}
	return out, nil
}

// SetTelemetry injects a synthetic telemetry reading for a channel, used
// by safety-supervisor tests to simulate overheating/overcurrent.
func (s *SimServoBus) SetTelemetry(channel int, t ChannelTelemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry[channel] = t
}

// LastWrite returns the most recent PWM value written to a channel.
func (s *SimServoBus) LastWrite(channel int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.writes[channel]
	return v, ok
}

// SimAudioPlayer is an in-memory AudioPlayer.
type SimAudioPlayer struct {
	mu      sync.Mutex
	playing map[PlayHandle]string
	stopped bool
	nextID  int
}

func NewSimAudioPlayer() *SimAudioPlayer {
	return &SimAudioPlayer{playing: make(map[PlayHandle]string)}
}

func (s *SimAudioPlayer) Play(ctx context.Context, clipID string, volume float64) (PlayHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := PlayHandle(clipID)
	s.playing[h] = clipID
	s.stopped = false
	return h, nil
}

func (s *SimAudioPlayer) Fade(ctx context.Context, handle PlayHandle, ms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.playing, handle)
	return nil
}

func (s *SimAudioPlayer) StopAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = make(map[PlayHandle]string)
	s.stopped = true
	return nil
}

func (s *SimAudioPlayer) Position(ctx context.Context, handle PlayHandle) (int64, error) {
	return 0, nil
}

// IsPlaying reports whether a handle is still active.
func (s *SimAudioPlayer) IsPlaying(handle PlayHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playing[handle]
	return ok
}

// SimLightBus is an in-memory LightBus.
type SimLightBus struct {
	mu    sync.Mutex
	zones map[string]string
}

func NewSimLightBus() *SimLightBus {
	return &SimLightBus{zones: make(map[string]string)}
}

func (s *SimLightBus) Set(ctx context.Context, zone string, pattern string, params map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zone] = pattern
	return nil
}

// Pattern returns the last pattern set on a zone.
func (s *SimLightBus) Pattern(zone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zones[zone]
}

// SimGuestObserver is a manually-fed GuestObserver for tests.
type SimGuestObserver struct {
	ch chan GuestObservation
}

func NewSimGuestObserver() *SimGuestObserver {
	return &SimGuestObserver{ch: make(chan GuestObservation, 64)}
}

func (s *SimGuestObserver) Observations() <-chan GuestObservation { return s.ch }

// Emit pushes a synthetic observation into the stream.
func (s *SimGuestObserver) Emit(o GuestObservation) {
	s.ch <- o
}
