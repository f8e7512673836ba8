package kv

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "kv_request_duration_seconds",
		Help: "request durations for the kv store",
	},
	[]string{"type", "operation"})

// StoreMetricsWrapper wraps any Store with a Prometheus duration histogram
// per operation.
type StoreMetricsWrapper struct {
	Store
	StoreType string
}

func (s *StoreMetricsWrapper) timer(operation string) *prometheus.Timer {
	return prometheus.NewTimer(requestDuration.WithLabelValues(s.StoreType, operation))
}

func (s *StoreMetricsWrapper) Get(ctx context.Context, partitionKey, key []byte) (*ValueWithPredicate, error) {
	timer := s.timer("Get")
	defer timer.ObserveDuration()
	return s.Store.Get(ctx, partitionKey, key)
}

func (s *StoreMetricsWrapper) Set(ctx context.Context, partitionKey, key, value []byte) error {
	timer := s.timer("Set")
	defer timer.ObserveDuration()
	return s.Store.Set(ctx, partitionKey, key, value)
}

func (s *StoreMetricsWrapper) SetIf(ctx context.Context, partitionKey, key, value []byte, valuePredicate Predicate) error {
	timer := s.timer("SetIf")
	defer timer.ObserveDuration()
	return s.Store.SetIf(ctx, partitionKey, key, value, valuePredicate)
}

func (s *StoreMetricsWrapper) Delete(ctx context.Context, partitionKey, key []byte) error {
	timer := s.timer("Delete")
	defer timer.ObserveDuration()
	return s.Store.Delete(ctx, partitionKey, key)
}

func (s *StoreMetricsWrapper) Scan(ctx context.Context, partitionKey, start []byte) (EntriesIterator, error) {
	timer := s.timer("Scan")
	defer timer.ObserveDuration()
	return s.Store.Scan(ctx, partitionKey, start)
}

// WithMetrics returns store wrapped with operation metrics labeled by
// storeType.
func WithMetrics(store Store, storeType string) Store {
	return &StoreMetricsWrapper{Store: store, StoreType: storeType}
}
