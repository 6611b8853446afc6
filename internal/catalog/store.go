package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/catalog-pricing/internal/obs"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// ErrNotLoaded is returned before the first successful load.
var ErrNotLoaded = errors.New("catalog: not loaded")

// Snapshot is an immutable catalog version. Readers hold on to a snapshot for
// the duration of a request; reloads install a new one.
type Snapshot struct {
	Index    *pricing.Index
	Version  string
	LoadedAt time.Time
	Source   string
	Issues   []pricing.Issue
}

// Store holds the current catalog snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
	path    string
	strict  bool
	logger  zerolog.Logger
	now     func() time.Time
	reloads metric.Int64Counter
}

// StoreConfig configures a Store. With Strict set, a catalog that fails
// validation is rejected and the previous snapshot stays in place.
type StoreConfig struct {
	Path   string
	Strict bool
	Logger zerolog.Logger
	Meter  metric.Meter
	Now    func() time.Time
}

// NewStore constructs an empty Store. Call Load before serving.
func NewStore(cfg StoreConfig) (*Store, error) {
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter(obs.TracerName)
	}
	reloads, err := meter.Int64Counter("catalog.reloads",
		metric.WithDescription("Catalog snapshot load attempts by result."))
	if err != nil {
		return nil, fmt.Errorf("catalog reload counter: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Store{path: cfg.Path, strict: cfg.Strict, logger: cfg.Logger, now: now, reloads: reloads}, nil
}

// Load reads the configured catalog file and installs it.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	if s.path == "" {
		return nil, errors.New("catalog: no path configured")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.record(ctx, "error")
		return nil, fmt.Errorf("read catalog %s: %w", s.path, err)
	}
	return s.LoadBytes(ctx, data, s.path)
}

// LoadBytes decodes, validates and installs a catalog document.
func (s *Store) LoadBytes(ctx context.Context, data []byte, source string) (*Snapshot, error) {
	products, err := DecodeCatalog(data)
	if err != nil {
		s.record(ctx, "error")
		return nil, err
	}
	var issues []pricing.Issue
	if verr := pricing.Validate(products); verr != nil {
		var v *pricing.ValidationError
		if !errors.As(verr, &v) {
			s.record(ctx, "error")
			return nil, verr
		}
		if s.strict {
			s.record(ctx, "rejected")
			return nil, verr
		}
		issues = v.Issues
	}

	sum := sha256.Sum256(data)
	snap := &Snapshot{
		Index:    pricing.NewIndex(products),
		Version:  hex.EncodeToString(sum[:])[:16],
		LoadedAt: s.now(),
		Source:   source,
		Issues:   issues,
	}
	s.current.Store(snap)
	s.record(ctx, "ok")

	level := zerolog.InfoLevel
	if len(issues) > 0 {
		level = zerolog.WarnLevel
	}
	s.logger.WithLevel(level).
		Int("issues", len(issues)).
		Str("version", snap.Version).
		Str("source", source).
		Int("products", snap.Index.Len()).
		Msg("catalog loaded")
	return snap, nil
}

func (s *Store) record(ctx context.Context, result string) {
	s.reloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Current returns the installed snapshot, or nil before the first load.
func (s *Store) Current() *Snapshot {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// Index returns the current catalog index. It is nil-safe: an empty store
// yields a nil index, which resolves every id as unknown.
func (s *Store) Index() *pricing.Index {
	if snap := s.Current(); snap != nil {
		return snap.Index
	}
	return nil
}

// Version returns the current snapshot version or "".
func (s *Store) Version() string {
	if snap := s.Current(); snap != nil {
		return snap.Version
	}
	return ""
}

// Ready reports whether a snapshot is installed.
func (s *Store) Ready(context.Context) error {
	if s.Current() == nil {
		return ErrNotLoaded
	}
	return nil
}

type catalogDocument struct {
	Products []pricing.Product `json:"products"`
}

// DecodeCatalog parses either {"products": [...]} or a bare product array.
func DecodeCatalog(data []byte) ([]pricing.Product, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("catalog: empty document")
	}
	if trimmed[0] == '[' {
		var products []pricing.Product
		if err := json.Unmarshal(trimmed, &products); err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		return products, nil
	}
	var doc catalogDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return doc.Products, nil
}
