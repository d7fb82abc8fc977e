// Package adapters defines the thin, external-collaborator contracts
// (C9): ServoBus, AudioPlayer, LightBus, GuestObserver. These are
// interfaces only — raw bus I/O, audio decode/DSP, and guest-detection
// vision live outside this module, matching spec.md's stated scope.
package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/rolojard/animatronic-kernel/internal/joint"
)

// Bus errors, per spec §4.9/§7.
var (
	ErrBusTimeout     = errors.New("servo bus: timeout")
	ErrBusError       = errors.New("servo bus: write error")
	ErrDeviceAbsent   = errors.New("servo bus: device absent")
)

// ChannelTelemetry is one channel's latest sensed readings, polled at
// >=10 Hz by the ServoBus implementation.
type ChannelTelemetry struct {
	TemperatureC float64
	CurrentA     float64
	VoltageV     float64
	ReportedPWMUs int
}

// ServoBus is the contract for raw PWM channel I/O.
type ServoBus interface {
	// Write commands a channel to a PWM pulse width in microseconds.
	// Implementations must honor a hard per-call timeout (<=5ms, §5).
	Write(ctx context.Context, channel int, pwmUs int) error
	// Telemetry returns the latest reading for every channel.
	Telemetry(ctx context.Context) (map[int]ChannelTelemetry, error)
}

// PlayHandle identifies one in-flight audio playback.
type PlayHandle string

// AudioPlayer is the contract for audio clip playback, independent of
// file decode/DSP (out of scope per spec §1).
type AudioPlayer interface {
	Play(ctx context.Context, clipID string, volume float64) (PlayHandle, error)
	Fade(ctx context.Context, handle PlayHandle, ms int) error
	StopAll(ctx context.Context) error
	// Position returns elapsed playback position in milliseconds, for
	// sync checks by the timeline coordinator.
	Position(ctx context.Context, handle PlayHandle) (int64, error)
}

// LightBus is the contract for lighting/LED pattern control. No readback
// is required, per spec §4.9.
type LightBus interface {
	Set(ctx context.Context, zone string, pattern string, params map[string]any) error
}

// Gesture names a recognized guest gesture, supplied by the external
// vision/gesture collaborator.
type Gesture string

// Zone names a guest-distance band, nearest first.
type Zone string

const (
	ZoneCritical    Zone = "critical"
	ZoneDanger      Zone = "danger"
	ZoneCaution     Zone = "caution"
	ZoneInteraction Zone = "interaction"
	ZoneSocial      Zone = "social"
	ZoneAwareness   Zone = "awareness"
)

// AgeGroup classifies an observed guest for the GentleCaretaker rule.
type AgeGroup string

const (
	AgeUnknown  AgeGroup = ""
	AgeChild    AgeGroup = "child"
	AgeToddler  AgeGroup = "toddler"
	AgeTeen     AgeGroup = "teen"
	AgeAdult    AgeGroup = "adult"
	AgeSenior   AgeGroup = "senior"
)

// Emotion classifies an observed guest's dominant detected emotion.
type Emotion string

// GuestObservation is one sensed-guest reading from the external vision
// collaborator.
type GuestObservation struct {
	ObservationID string
	Timestamp     time.Time
	PositionX     float64
	PositionY     float64
	PositionZ     float64
	DistanceM     float64
	Zone          Zone
	AgeGroup      AgeGroup
	Emotion       Emotion
	Gesture       Gesture
	Confidence    float64
	VelocityMPS   float64
	// RecognitionID, when non-empty, identifies a returning guest via
	// the external costume/face recognition collaborator.
	RecognitionID string
	GroupCount    int
}

// GuestObserver streams sensed guest observations at >=10 Hz.
type GuestObserver interface {
	Observations() <-chan GuestObservation
}

// JointWriteError pairs a joint with the bus error encountered writing
// to it, so the motion scheduler can decide retry-vs-fault per joint.
type JointWriteError struct {
	Joint joint.ID
	Err   error
}

func (e *JointWriteError) Error() string {
	return string(e.Joint) + ": " + e.Err.Error()
}

func (e *JointWriteError) Unwrap() error { return e.Err }
