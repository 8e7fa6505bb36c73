package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/clock"
	"github.com/dgnsrekt/glow-audio/internal/metrics"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// Eviction triggers reported to metrics.
const (
	triggerPut    = "put"
	triggerSweep  = "sweep"
	triggerManual = "manual"
)

// DefaultFrequencyWeight is the recency credit one access is worth.
const DefaultFrequencyWeight = time.Minute

// Config holds the limits of a Store.
type Config struct {
	MaxEntries      int
	MaxBytes        int64
	FrequencyWeight time.Duration
}

// DefaultConfig returns the default store limits.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      50,
		MaxBytes:        50 * 1024 * 1024, // 50MB
		FrequencyWeight: DefaultFrequencyWeight,
	}
}

// Stats is a snapshot of the store.
//
// HitRate is entries divided by the total access count of current entries,
// the inverse of average accesses per entry, and 0 when nothing has been read.
type Stats struct {
	EntryCount int
	TotalBytes int64
	MaxBytes   int64
	MaxEntries int
	HitRate    float64
	Evictions  int64
}

// Prober derives metadata for a payload.
type Prober interface {
	Probe(ctx context.Context, payload []byte) (probe.Metadata, error)
}

// entry is a cached payload with its access bookkeeping.
type entry struct {
	key          string
	payload      []byte
	size         int64
	metadata     probe.Metadata
	lastAccessed time.Time
	accessCount  int64
}

// score ranks entries for eviction: lower scores go first.
func (e *entry) score(weight time.Duration) int64 {
	return e.lastAccessed.UnixMilli() + e.accessCount*weight.Milliseconds()
}

// Store is a bounded key to payload map. After every Put returns, both the
// entry count and the byte total are within the configured limits.
type Store struct {
	mu         sync.Mutex
	config     Config
	entries    map[string]*entry
	totalBytes int64
	evictions  int64

	clock  clock.Clock
	prober Prober
}

// NewStore creates a store. A nil prober stores format and size only.
func NewStore(config Config, clk clock.Clock, prober Prober) *Store {
	def := DefaultConfig()
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = def.MaxBytes
	}
	if config.FrequencyWeight <= 0 {
		config.FrequencyWeight = def.FrequencyWeight
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Store{
		config:  config,
		entries: make(map[string]*entry),
		clock:   clk,
		prober:  prober,
	}
}

// Put stores payload under key, replacing any previous entry, and evicts
// other entries until the new one fits. Probe failures are logged and the
// entry is stored with whatever metadata could be derived.
func (s *Store) Put(ctx context.Context, key string, payload []byte) error {
	if len(payload) == 0 {
		return audioerr.New(audioerr.ErrInvalidPayload, audioerr.KindInput, "put "+key)
	}
	size := int64(len(payload))

	s.mu.Lock()
	maxBytes := s.config.MaxBytes
	s.mu.Unlock()
	if size > maxBytes {
		return audioerr.New(audioerr.ErrItemTooLarge, audioerr.KindInput, "put "+key).
			WithContext("size", size).
			WithContext("max_bytes", maxBytes)
	}

	meta := probe.Metadata{Format: probe.DetectFormat(payload), Size: len(payload)}
	if s.prober != nil {
		probed, err := s.prober.Probe(ctx, payload)
		if err != nil {
			log.Warn("Metadata probe failed, caching anyway", "key", key, "error", err)
		}
		meta = probed
	}

	// The cache owns its copy.
	data := make([]byte, len(payload))
	copy(data, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Limits may have shrunk while probing.
	if size > s.config.MaxBytes {
		return audioerr.New(audioerr.ErrItemTooLarge, audioerr.KindInput, "put "+key).
			WithContext("size", size).
			WithContext("max_bytes", s.config.MaxBytes)
	}

	if old, ok := s.entries[key]; ok {
		s.removeLocked(old)
	}

	for len(s.entries) > 0 && (s.totalBytes+size > s.config.MaxBytes || len(s.entries) >= s.config.MaxEntries) {
		s.evictOneLocked(triggerPut)
	}

	s.entries[key] = &entry{
		key:          key,
		payload:      data,
		size:         size,
		metadata:     meta,
		lastAccessed: s.clock.Now(),
	}
	s.totalBytes += size
	metrics.SetCacheUsage(s.totalBytes, len(s.entries))

	log.Debug("Cached payload", "key", key, "size", size, "total", s.totalBytes, "entries", len(s.entries))
	return nil
}

// Get returns the payload for key and records the access. The returned slice
// is owned by the store and must not be modified.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		metrics.RecordCacheMiss()
		return nil, false
	}

	e.lastAccessed = s.clock.Now()
	e.accessCount++
	metrics.RecordCacheHit()
	return e.payload, true
}

// Contains reports whether key is cached without recording an access.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Metadata returns the probed metadata for key without recording an access.
func (s *Store) Metadata(key string) (probe.Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return probe.Metadata{}, false
	}
	return e.metadata, true
}

// Delete removes key. It reports whether an entry was removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	metrics.SetCacheUsage(s.totalBytes, len(s.entries))
	return true
}

// EvictOne removes the entry with the lowest score.
func (s *Store) EvictOne() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictOneLocked(triggerManual)
}

// Sweep evicts entries until the store is within its limits and returns the
// number evicted. It does nothing when the store is under budget.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for len(s.entries) > 0 && (s.totalBytes > s.config.MaxBytes || len(s.entries) > s.config.MaxEntries) {
		if _, ok := s.evictOneLocked(triggerSweep); !ok {
			break
		}
		evicted++
	}
	if evicted > 0 {
		log.Debug("Sweep evicted entries", "count", evicted, "total", s.totalBytes)
	}
	return evicted
}

// SetLimits changes the store limits. Entries over the new limits are removed
// by the next Put or Sweep.
func (s *Store) SetLimits(maxEntries int, maxBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxEntries > 0 {
		s.config.MaxEntries = maxEntries
	}
	if maxBytes > 0 {
		s.config.MaxBytes = maxBytes
	}
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.totalBytes = 0
	metrics.SetCacheUsage(0, 0)
}

// Keys returns the cached keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Stats returns a snapshot of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var accesses int64
	for _, e := range s.entries {
		accesses += e.accessCount
	}

	stats := Stats{
		EntryCount: len(s.entries),
		TotalBytes: s.totalBytes,
		MaxBytes:   s.config.MaxBytes,
		MaxEntries: s.config.MaxEntries,
		Evictions:  s.evictions,
	}
	if accesses > 0 {
		stats.HitRate = float64(len(s.entries)) / float64(accesses)
	}
	return stats
}

// evictOneLocked removes the lowest scoring entry, breaking ties by the
// smallest key (must be called with lock held).
func (s *Store) evictOneLocked(trigger string) (string, bool) {
	var victim *entry
	var victimScore int64
	for _, e := range s.entries {
		sc := e.score(s.config.FrequencyWeight)
		if victim == nil || sc < victimScore || (sc == victimScore && e.key < victim.key) {
			victim, victimScore = e, sc
		}
	}
	if victim == nil {
		return "", false
	}

	s.removeLocked(victim)
	s.evictions++
	metrics.RecordEviction(trigger)
	metrics.SetCacheUsage(s.totalBytes, len(s.entries))

	log.Debug("Evicted entry", "key", victim.key, "size", victim.size, "score", victimScore, "trigger", trigger)
	return victim.key, true
}

// removeLocked drops an entry (must be called with lock held).
func (s *Store) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.totalBytes -= e.size
}
