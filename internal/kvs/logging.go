package kvs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"agentchat-gateway/internal/identity"
	"agentchat-gateway/internal/metrics"
	"agentchat-gateway/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	backend Backend
}

// NewLoggingStore returns a store that logs and records metrics.
func NewLoggingStore(inner Store, backend Backend) Store {
	return &LoggingStore{inner: inner, backend: backend}
}

func (s *LoggingStore) GetFields(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	fields, err := s.inner.GetFields(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if len(fields) > 0 {
		result = "hit"
	}
	metrics.JobStoreOpsTotal.WithLabelValues("get", result).Inc()

	logFields := s.fields(key, start, zap.String("store_result", result))
	if err != nil {
		logging.L(ctx).Error("job_store_get", append(logFields, zap.Error(err))...)
	} else {
		logging.L(ctx).Debug("job_store_get", logFields...)
	}
	return fields, err
}

func (s *LoggingStore) SetFields(ctx context.Context, key string, fields map[string]string) error {
	start := time.Now()
	err := s.inner.SetFields(ctx, key, fields)
	s.record(ctx, "set", key, start, err, zap.Int("field_count", len(fields)))
	return err
}

func (s *LoggingStore) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := s.inner.SetExpiry(ctx, key, ttl)
	s.record(ctx, "expire", key, start, err, zap.Duration("ttl", ttl))
	return err
}

// WriteFields keeps the inner store's atomic write visible through the decorator.
func (s *LoggingStore) WriteFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	start := time.Now()
	err := Write(ctx, s.inner, key, fields, ttl)
	s.record(ctx, "write", key, start, err,
		zap.Int("field_count", len(fields)),
		zap.Duration("ttl", ttl),
	)
	return err
}

func (s *LoggingStore) record(ctx context.Context, op, key string, start time.Time, err error, extra ...zap.Field) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.JobStoreOpsTotal.WithLabelValues(op, result).Inc()

	logFields := s.fields(key, start, extra...)
	if err != nil {
		logging.L(ctx).Error("job_store_"+op, append(logFields, zap.Error(err))...)
		return
	}
	logging.L(ctx).Debug("job_store_"+op, logFields...)
}

func (s *LoggingStore) fields(key string, start time.Time, extra ...zap.Field) []zap.Field {
	out := []zap.Field{
		zap.String("store_backend", string(s.backend)),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}
	if k, ok := identity.ParseJobKey(key); ok {
		out = append(out,
			zap.String("user_id", string(k.User)),
			zap.String("fingerprint", string(k.Fingerprint)),
		)
	} else {
		out = append(out, zap.String("key", key))
	}
	return append(out, extra...)
}
