package sqlbridge

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultSlowQueryThreshold = 200 * time.Millisecond

// SlowQueryConfig configures the slow query monitor. Threshold is the
// wall-clock duration above which a statement counts as slow; the
// monitor never changes what the statement returns.
type SlowQueryConfig struct {
	Enabled      bool          `json:"enabled"`
	Threshold    time.Duration `json:"threshold"`
	MaxRecords   int           `json:"max_records"`
	SanitizeArgs bool          `json:"sanitize_args"`
}

// DefaultSlowQueryConfig returns the monitor settings used when
// Config.SlowQuery is left zero.
func DefaultSlowQueryConfig() SlowQueryConfig {
	return SlowQueryConfig{
		Enabled:      true,
		Threshold:    defaultSlowQueryThreshold,
		MaxRecords:   1000,
		SanitizeArgs: true,
	}
}

// SlowQueryRecord represents a single recorded slow query
type SlowQueryRecord struct {
	ID              string        `json:"id"`
	Query           string        `json:"query"`
	NormalizedQuery string        `json:"normalized_query"`
	Duration        time.Duration `json:"duration"`
	Timestamp       time.Time     `json:"timestamp"`
	Args            []interface{} `json:"args,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// QueryPattern aggregates slow queries that normalize to the same text
type QueryPattern struct {
	Pattern       string        `json:"pattern"`
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastSeen      time.Time     `json:"last_seen"`
}

// AverageDuration is TotalDuration spread over Count.
func (p *QueryPattern) AverageDuration() time.Duration {
	if p == nil || p.Count == 0 { return 0 }
	return time.Duration(int64(p.TotalDuration) / p.Count)
}

// SlowQueryStats summarizes everything the recorder has seen
type SlowQueryStats struct {
	TotalCount      int64         `json:"total_count"`
	UniqueQueries   int64         `json:"unique_queries"`
	AverageDuration time.Duration `json:"average_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	LastRecordTime  time.Time     `json:"last_record_time"`
}

// SlowQueryStorage persists slow query records. The in-memory
// implementation below is the default; hosts can plug their own.
type SlowQueryStorage interface {
	Store(ctx context.Context, record *SlowQueryRecord) error
	GetRecords(ctx context.Context, limit int) ([]*SlowQueryRecord, error)
	GetStats(ctx context.Context) (*SlowQueryStats, error)
	GetPatterns(ctx context.Context, limit int) ([]*QueryPattern, error)
	Clear(ctx context.Context) error
}

// SlowQueryRecorder captures statements that crossed the threshold.
type SlowQueryRecorder struct {
	mu      sync.RWMutex
	config  SlowQueryConfig
	storage SlowQueryStorage
}

// NewSlowQueryRecorder creates a recorder backed by storage.
func NewSlowQueryRecorder(config SlowQueryConfig, storage SlowQueryStorage) *SlowQueryRecorder {
	if storage == nil {
		storage = NewMemorySlowQueryStorage(config.MaxRecords)
	}
	return &SlowQueryRecorder{config: config, storage: storage}
}

func (r *SlowQueryRecorder) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Enabled
}

func (r *SlowQueryRecorder) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Enabled = enabled
}

func (r *SlowQueryRecorder) GetThreshold() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.Threshold
}

func (r *SlowQueryRecorder) SetThreshold(threshold time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Threshold = threshold
}

// Record stores one statement if it crossed the recorder's threshold.
// Statements at or below the threshold are dropped silently.
func (r *SlowQueryRecorder) Record(ctx context.Context, query string, args []interface{}, duration time.Duration, execErr error) error {
	r.mu.RLock()
	cfg := r.config
	r.mu.RUnlock()
	if !cfg.Enabled { return nil }
	if cfg.Threshold > 0 && duration <= cfg.Threshold { return nil }

	rec := &SlowQueryRecord{
		ID:              uuid.NewString(),
		Query:           query,
		NormalizedQuery: normalizeQuery(query),
		Duration:        duration,
		Timestamp:       time.Now(),
		Args:            sanitizeArgs(args, cfg.SanitizeArgs),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	}
	return r.storage.Store(ctx, rec)
}

func (r *SlowQueryRecorder) GetRecords(ctx context.Context, limit int) ([]*SlowQueryRecord, error) {
	return r.storage.GetRecords(ctx, limit)
}

func (r *SlowQueryRecorder) GetStats(ctx context.Context) (*SlowQueryStats, error) {
	return r.storage.GetStats(ctx)
}

func (r *SlowQueryRecorder) GetPatterns(ctx context.Context, limit int) ([]*QueryPattern, error) {
	return r.storage.GetPatterns(ctx, limit)
}

func (r *SlowQueryRecorder) Clear(ctx context.Context) error {
	return r.storage.Clear(ctx)
}

var (
	normStringRe = regexp.MustCompile(`'[^']*'`)
	normNumberRe = regexp.MustCompile(`\b\d+\b`)
	normSpaceRe  = regexp.MustCompile(`\s+`)
)

// normalizeQuery collapses literals and whitespace so variants of one
// statement aggregate under a single pattern.
func normalizeQuery(query string) string {
	s := normStringRe.ReplaceAllString(query, "?")
	s = normNumberRe.ReplaceAllString(s, "?")
	s = normSpaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return s
}

// sanitizeArgs replaces values with type placeholders when enabled, so
// player data never lands in diagnostics.
func sanitizeArgs(args []interface{}, sanitize bool) []interface{} {
	if len(args) == 0 { return nil }
	out := make([]interface{}, len(args))
	for i, a := range args {
		if !sanitize {
			out[i] = a
			continue
		}
		switch a.(type) {
		case nil:
			out[i] = nil
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
			out[i] = a
		default:
			out[i] = "<redacted>"
		}
	}
	return out
}

// MemorySlowQueryStorage keeps a bounded ring of records plus
// per-pattern aggregates.
type MemorySlowQueryStorage struct {
	mu       sync.RWMutex
	maxSize  int
	records  []*SlowQueryRecord
	patterns map[string]*QueryPattern

	totalCount int64
	totalDur   time.Duration
	maxDur     time.Duration
	lastAt     time.Time
}

func NewMemorySlowQueryStorage(maxSize int) *MemorySlowQueryStorage {
	if maxSize <= 0 { maxSize = 1000 }
	return &MemorySlowQueryStorage{
		maxSize:  maxSize,
		patterns: make(map[string]*QueryPattern),
	}
}

func (s *MemorySlowQueryStorage) Store(ctx context.Context, record *SlowQueryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, record)
	if len(s.records) > s.maxSize {
		s.records = s.records[len(s.records)-s.maxSize:]
	}

	pat, ok := s.patterns[record.NormalizedQuery]
	if !ok {
		pat = &QueryPattern{Pattern: record.NormalizedQuery}
		s.patterns[record.NormalizedQuery] = pat
	}
	pat.Count++
	pat.TotalDuration += record.Duration
	if record.Duration > pat.MaxDuration {
		pat.MaxDuration = record.Duration
	}
	pat.LastSeen = record.Timestamp

	s.totalCount++
	s.totalDur += record.Duration
	if record.Duration > s.maxDur {
		s.maxDur = record.Duration
	}
	s.lastAt = record.Timestamp
	return nil
}

func (s *MemorySlowQueryStorage) GetRecords(ctx context.Context, limit int) ([]*SlowQueryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	// newest first
	out := make([]*SlowQueryRecord, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *MemorySlowQueryStorage) GetStats(ctx context.Context) (*SlowQueryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := &SlowQueryStats{
		TotalCount:     s.totalCount,
		UniqueQueries:  int64(len(s.patterns)),
		MaxDuration:    s.maxDur,
		LastRecordTime: s.lastAt,
	}
	if s.totalCount > 0 {
		st.AverageDuration = time.Duration(int64(s.totalDur) / s.totalCount)
	}
	return st, nil
}

func (s *MemorySlowQueryStorage) GetPatterns(ctx context.Context, limit int) ([]*QueryPattern, error) {
	s.mu.RLock()
	out := make([]*QueryPattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		cp := *p
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySlowQueryStorage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.patterns = make(map[string]*QueryPattern)
	s.totalCount = 0
	s.totalDur = 0
	s.maxDur = 0
	s.lastAt = time.Time{}
	return nil
}

// EnableSlowQueryRecording attaches a recorder (with in-memory
// storage) to the pool and aligns the pool threshold with cfg.
func (p *Pool) EnableSlowQueryRecording(cfg SlowQueryConfig) {
	if p == nil { return }
	if cfg.Threshold <= 0 { cfg.Threshold = defaultSlowQueryThreshold }
	cfg.Enabled = true
	p.slowRecorder = NewSlowQueryRecorder(cfg, nil)
	p.slowThresholdNS.Store(int64(cfg.Threshold))
}

// SlowQueries returns the pool's recorder, nil when recording is off.
func (p *Pool) SlowQueries() *SlowQueryRecorder {
	if p == nil { return nil }
	return p.slowRecorder
}

// observeSlow is the monitor hook on the execution path: it counts and
// records statements that crossed the threshold. Recording is
// independent of whether logging is enabled.
func (p *Pool) observeSlow(ctx context.Context, query string, args []any, duration time.Duration, err error) {
	threshold := p.slowThreshold()
	if threshold <= 0 || duration <= threshold { return }
	p.recordSlowQuery(ctx)
	if p.slowRecorder != nil {
		_ = p.slowRecorder.Record(ctx, query, args, duration, err)
	}
}
