package observability

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// StartSpan records a lightweight span lifecycle around an operation.
// Failed spans always bump "<component>.<operation>.errors".
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, cfg := currentLogger()
	start := time.Now()
	if logger != nil && cfg.Enabled {
		logger.LogAttrs(ctx, slog.LevelDebug, "obs span start",
			slog.String("component", component),
			slog.String("operation", operation),
		)
	}

	return ctx, func(err error) {
		if err != nil {
			defaultRegistry.add(component+"."+operation+".errors", nil, 1)
		}
		if logger == nil || !cfg.Enabled {
			return
		}

		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "obs span end", attrs...)
	}
}

// RecordMetric adds value to the named counter and, when enabled, logs the datapoint.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	defaultRegistry.add(name, labels, value)

	logger, cfg := currentLogger()
	if logger == nil || !cfg.Enabled {
		return
	}

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for k, v := range labels {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "obs metric", attrs...)
}

// Counters returns a copy of all counters keyed by name{label=value,...}.
func Counters() map[string]float64 {
	return defaultRegistry.snapshot()
}

type registry struct {
	mu       sync.Mutex
	counters map[string]float64
}

var defaultRegistry = &registry{counters: make(map[string]float64)}

func (r *registry) add(name string, labels map[string]string, value float64) {
	key := seriesKey(name, labels)
	r.mu.Lock()
	r.counters[key] += value
	r.mu.Unlock()
}

func (r *registry) snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

func (r *registry) reset() {
	r.mu.Lock()
	r.counters = make(map[string]float64)
	r.mu.Unlock()
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
