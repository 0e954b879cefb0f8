package sink

import (
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nkkko/docsync/internal/domain"
	"github.com/nkkko/docsync/internal/metrics"
)

var _ domain.Sink = (*CacheSink)(nil)

// DefaultCacheSize bounds the number of documents kept by a CacheSink
const DefaultCacheSize = 10000

// CacheSink keeps the latest data per document id in a 2Q cache. Deleted
// documents are evicted.
type CacheSink struct {
	cache   *lru.TwoQueueCache
	metrics *metrics.Metrics
}

// NewCache creates a CacheSink holding up to size documents
func NewCache(size int) (*CacheSink, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New2Q(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}
	return &CacheSink{cache: cache, metrics: metrics.GetMetrics()}, nil
}

func (s *CacheSink) Record(id string, data map[string]any) {
	s.metrics.SinkRecordsTotal.WithLabelValues("cache").Inc()
	if data == nil {
		s.cache.Remove(id)
		return
	}
	s.cache.Add(id, copyData(data))
}

// Get returns a copy of the latest data recorded for id
func (s *CacheSink) Get(id string) (map[string]any, bool) {
	v, ok := s.cache.Peek(id)
	if !ok {
		return nil, false
	}
	return copyData(v.(map[string]any)), true
}

// Keys returns the cached document ids, sorted
func (s *CacheSink) Keys() []string {
	raw := s.cache.Keys()
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(string))
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of cached documents
func (s *CacheSink) Len() int {
	return s.cache.Len()
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
