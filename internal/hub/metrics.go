package hub

import (
	"context"

	"mho/internal/logging"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "mho/hub"

type instruments struct {
	published   metric.Int64Counter
	dropped     metric.Int64Counter
	pruned      metric.Int64Counter
	subscribers metric.Int64UpDownCounter
	attrs       metric.MeasurementOption
}

func newInstruments(meter metric.Meter, name string, logger *logging.Logger) instruments {
	if meter == nil {
		meter = otelapi.GetMeterProvider().Meter(meterName)
	}
	fallback := noop.NewMeterProvider().Meter(meterName)

	published, err := meter.Int64Counter("mho.hub.published",
		metric.WithDescription("Values published to the hub."))
	if err != nil {
		logInstrumentError(logger, "mho.hub.published", err)
		published, _ = fallback.Int64Counter("mho.hub.published")
	}
	dropped, err := meter.Int64Counter("mho.hub.dropped",
		metric.WithDescription("Per-subscriber deliveries dropped on a full queue."))
	if err != nil {
		logInstrumentError(logger, "mho.hub.dropped", err)
		dropped, _ = fallback.Int64Counter("mho.hub.dropped")
	}
	pruned, err := meter.Int64Counter("mho.hub.pruned",
		metric.WithDescription("Subscriptions removed by the liveness sweep."))
	if err != nil {
		logInstrumentError(logger, "mho.hub.pruned", err)
		pruned, _ = fallback.Int64Counter("mho.hub.pruned")
	}
	subscribers, err := meter.Int64UpDownCounter("mho.hub.subscribers",
		metric.WithDescription("Registered subscriptions."))
	if err != nil {
		logInstrumentError(logger, "mho.hub.subscribers", err)
		subscribers, _ = fallback.Int64UpDownCounter("mho.hub.subscribers")
	}

	return instruments{
		published:   published,
		dropped:     dropped,
		pruned:      pruned,
		subscribers: subscribers,
		attrs:       metric.WithAttributes(attribute.String("hub", name)),
	}
}

func logInstrumentError(logger *logging.Logger, name string, err error) {
	logger.Warn("hub metric unavailable", map[string]string{
		"metric": name,
		"error":  err.Error(),
	})
}

func (i instruments) addPublished(n int64) {
	i.published.Add(context.Background(), n, i.attrs)
}

func (i instruments) addDropped(n int64) {
	i.dropped.Add(context.Background(), n, i.attrs)
}

func (i instruments) addPruned(n int64) {
	i.pruned.Add(context.Background(), n, i.attrs)
}

func (i instruments) addSubscribers(n int64) {
	if n == 0 {
		return
	}
	i.subscribers.Add(context.Background(), n, i.attrs)
}
