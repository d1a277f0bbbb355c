package alignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-t2sa/logger"
	"github.com/arloliu/go-t2sa/t2sa"
)

// MeasurementKind tells positions and offsets apart.
type MeasurementKind string

const (
	KindPosition MeasurementKind = "position"
	KindOffset   MeasurementKind = "offset"
)

// Measurement is a published target position or alignment offset.
//
// Linear values are in mm and angular values in degrees. For offsets,
// Reference is the point group the offset is measured against.
type Measurement struct {
	ID        uuid.UUID
	Kind      MeasurementKind
	Target    string
	Reference string
	DX        float64
	DY        float64
	DZ        float64
	DRX       float64
	DRY       float64
	DRZ       float64
	// MeasuredAt is the tracker timestamp, or the publish time when the tracker sent none.
	MeasuredAt time.Time
}

func newMeasurement(kind MeasurementKind, target string, off t2sa.Offset) Measurement {
	m := Measurement{
		ID:         uuid.New(),
		Kind:       kind,
		Target:     target,
		Reference:  off.Reference,
		DX:         off.DX,
		DY:         off.DY,
		DZ:         off.DZ,
		DRX:        off.DRX,
		DRY:        off.DRY,
		DRZ:        off.DRZ,
		MeasuredAt: off.Timestamp,
	}
	if m.MeasuredAt.IsZero() {
		m.MeasuredAt = time.Now()
	}

	return m
}

// EventSink receives everything the controller publishes.
type EventSink interface {
	PublishPosition(ctx context.Context, m Measurement) error
	PublishOffset(ctx context.Context, m Measurement) error
	PublishT2SAStatus(ctx context.Context, status t2sa.TrackerStatus) error
	PublishLaserStatus(ctx context.Context, status t2sa.LaserStatus) error
}

// LogSink is an EventSink that writes every event to a logger.
type LogSink struct {
	logger logger.Logger
}

var _ EventSink = (*LogSink)(nil)

// NewLogSink creates a LogSink writing to l.
func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) PublishPosition(_ context.Context, m Measurement) error {
	s.logger.Info("position", measurementAttrs(m)...)
	return nil
}

func (s *LogSink) PublishOffset(_ context.Context, m Measurement) error {
	s.logger.Info("offset", measurementAttrs(m)...)
	return nil
}

func (s *LogSink) PublishT2SAStatus(_ context.Context, status t2sa.TrackerStatus) error {
	s.logger.Debug("t2sa status", "status", status.String())
	return nil
}

func (s *LogSink) PublishLaserStatus(_ context.Context, status t2sa.LaserStatus) error {
	s.logger.Debug("laser status", "status", status.String())
	return nil
}

func measurementAttrs(m Measurement) []any {
	return []any{
		"id", m.ID.String(),
		"target", m.Target,
		"reference", m.Reference,
		"dX", m.DX, "dY", m.DY, "dZ", m.DZ,
		"dRX", m.DRX, "dRY", m.DRY, "dRZ", m.DRZ,
	}
}

// MultiSink publishes every event to each of its sinks in order.
// Errors from the sinks are joined.
type MultiSink []EventSink

var _ EventSink = MultiSink(nil)

func (ms MultiSink) PublishPosition(ctx context.Context, m Measurement) error {
	return ms.each(func(s EventSink) error { return s.PublishPosition(ctx, m) })
}

func (ms MultiSink) PublishOffset(ctx context.Context, m Measurement) error {
	return ms.each(func(s EventSink) error { return s.PublishOffset(ctx, m) })
}

func (ms MultiSink) PublishT2SAStatus(ctx context.Context, status t2sa.TrackerStatus) error {
	return ms.each(func(s EventSink) error { return s.PublishT2SAStatus(ctx, status) })
}

func (ms MultiSink) PublishLaserStatus(ctx context.Context, status t2sa.LaserStatus) error {
	return ms.each(func(s EventSink) error { return s.PublishLaserStatus(ctx, status) })
}

func (ms MultiSink) each(fn func(EventSink) error) error {
	var errs []error
	for _, s := range ms {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
