package council

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/council/internal/telemetry"
)

type metrics struct {
	sessionsCreated metric.Int64Counter
	commands        metric.Int64Counter
	turns           metric.Int64Counter
	generation      metric.Float64Histogram
	archiveDrops    metric.Int64Counter
}

// newMetrics registers council instruments on the global meter provider.
// Instrument creation errors fall back to no-op instruments from the
// provider, so they are ignored.
func newMetrics(m *Manager) *metrics {
	meter := telemetry.Meter("council/sessions")

	sessionsCreated, _ := meter.Int64Counter("council.sessions.created",
		metric.WithDescription("Sessions created"),
	)
	commands, _ := meter.Int64Counter("council.commands",
		metric.WithDescription("Session commands by type and outcome"),
	)
	turns, _ := meter.Int64Counter("council.turns",
		metric.WithDescription("Agent turns by outcome"),
	)
	generation, _ := meter.Float64Histogram("council.generation.duration",
		metric.WithDescription("Utterance generation latency"),
		metric.WithUnit("ms"),
	)
	archiveDrops, _ := meter.Int64Counter("council.archive.dropped",
		metric.WithDescription("Archive writes dropped because the write queue was full"),
	)
	_, _ = meter.Int64ObservableGauge("council.sessions.active",
		metric.WithDescription("Sessions that are not completed"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(m.activeCount(ctx)))
			return nil
		}),
	)

	return &metrics{
		sessionsCreated: sessionsCreated,
		commands:        commands,
		turns:           turns,
		generation:      generation,
		archiveDrops:    archiveDrops,
	}
}

func (m *metrics) command(ctx context.Context, name string, err error) {
	if m == nil || m.commands == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", name),
		attribute.String("outcome", outcome(err)),
	))
}

func (m *metrics) turn(err error, elapsed time.Duration) {
	if m == nil || m.turns == nil || m.generation == nil {
		return
	}
	ctx := context.Background()
	m.turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
	m.generation.Record(ctx, float64(elapsed.Milliseconds()))
}

func (m *metrics) created(ctx context.Context, template string) {
	if m == nil || m.sessionsCreated == nil {
		return
	}
	m.sessionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("template", template)))
}

func (m *metrics) archiveDropped(kind string) {
	if m == nil || m.archiveDrops == nil {
		return
	}
	m.archiveDrops.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
