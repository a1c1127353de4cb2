package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/etat/internal/cache"
	etaterrors "github.com/harunnryd/etat/internal/errors"
	"github.com/harunnryd/etat/internal/flight"
	"github.com/harunnryd/etat/internal/metrics"
	"github.com/harunnryd/etat/internal/store"
)

// DatasetStore is the slice of the document store the loader needs.
type DatasetStore interface {
	GetDataset(ctx context.Context, templateID string) (*store.DatasetEntry, error)
	PutDataset(ctx context.Context, entry *store.DatasetEntry) error
	DeleteDataset(ctx context.Context, templateID string) error
}

const (
	metaDigest   = "digest"
	metaEndpoint = "endpoint"
)

// payload is the cached unit: the raw template, never the adapted view.
type payload struct {
	raw      json.RawMessage
	cachedAt time.Time
	digest   string
}

// Loader fetches, caches, adapts and publishes reference datasets.
type Loader struct {
	fetcher  Fetcher
	store    DatasetStore
	policy   cache.Policy
	metrics  *metrics.Metrics
	endpoint string
	now      func() time.Time
	onReval  func(templateID string, err error)

	loads  *flight.Group[*Dataset]
	raw    *flight.Group[payload]
	events *listeners

	mu      sync.RWMutex
	current map[string]*Dataset
}

type LoaderOption func(*Loader)

func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// WithEndpoint records the endpoint in cache metadata.
func WithEndpoint(endpoint string) LoaderOption {
	return func(l *Loader) { l.endpoint = endpoint }
}

// WithRevalidateHook observes the end of every background refresh.
func WithRevalidateHook(fn func(templateID string, err error)) LoaderOption {
	return func(l *Loader) { l.onReval = fn }
}

func NewLoader(fetcher Fetcher, ds DatasetStore, policy cache.Policy, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetcher: fetcher,
		store:   ds,
		policy:  policy,
		now:     time.Now,
		events:  newListeners(),
		current: make(map[string]*Dataset),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.loads = flight.New[*Dataset]("reference", l.metrics)
	l.raw = flight.New[payload]("reference_raw", l.metrics)
	return l
}

func resolveFlow(hint store.FlowType) (store.FlowType, error) {
	if hint == "" {
		return store.FlowCheckin, nil
	}
	flow, err := store.ParseFlowType(string(hint))
	if err != nil {
		return "", etaterrors.InvalidInput(err.Error())
	}
	return flow, nil
}

func loadKey(templateID string, flow store.FlowType) string {
	return flight.Key("reference", templateID, string(flow))
}

// Load resolves the dataset through the single-flight group and the cache
// policy, then publishes it. An empty flow hint means check-in.
func (l *Loader) Load(ctx context.Context, templateID string, flowHint store.FlowType) (*Dataset, error) {
	flow, err := resolveFlow(flowHint)
	if err != nil {
		return nil, err
	}
	if !ValidTemplateID(templateID) {
		return nil, etaterrors.InvalidInput(fmt.Sprintf("invalid template id %q", templateID))
	}

	return l.loads.Do(ctx, loadKey(templateID, flow), func(ctx context.Context) (*Dataset, error) {
		src := &datasetSource{loader: l, templateID: templateID, flow: flow}
		p, outcome, err := cache.Resolve[payload](ctx, l.policy, src,
			cache.WithClock(l.now),
			cache.WithMetrics(l.metrics),
			cache.WithResource("template "+templateID),
		)
		if err != nil {
			return nil, err
		}
		ds, err := l.build(templateID, flow, p, outcome)
		if err != nil {
			return nil, err
		}
		l.publish(ds)
		return ds, nil
	})
}

// ForceReload skips the cache read, writes the fresh payload back and
// publishes it. It uses its own key, so an ordinary load already in flight
// is left to finish; whichever publishes last is current.
func (l *Loader) ForceReload(ctx context.Context, templateID string, flowHint store.FlowType) (*Dataset, error) {
	flow, err := resolveFlow(flowHint)
	if err != nil {
		return nil, err
	}
	if !ValidTemplateID(templateID) {
		return nil, etaterrors.InvalidInput(fmt.Sprintf("invalid template id %q", templateID))
	}

	p, err := l.refresh(ctx, templateID, "force")
	if err != nil {
		return nil, err
	}
	l.metrics.CacheResolved("forced")
	ds, err := l.build(templateID, flow, p, cache.OutcomeNetwork)
	if err != nil {
		return nil, err
	}
	l.publish(ds)
	return ds, nil
}

// refresh fetches and stores the raw payload under a qualified single-flight key.
func (l *Loader) refresh(ctx context.Context, templateID, qualifier string) (payload, error) {
	return l.raw.Do(ctx, flight.Key("reference", templateID, qualifier), func(ctx context.Context) (payload, error) {
		src := &datasetSource{loader: l, templateID: templateID}
		p, err := src.Fetch(ctx)
		if err != nil {
			return payload{}, err
		}
		if err := src.Store(ctx, p); err != nil {
			slog.Warn("Failed to write refreshed template to cache", "template", templateID, "error", err)
		}
		return p, nil
	})
}

func (l *Loader) build(templateID string, flow store.FlowType, p payload, outcome cache.Outcome) (*Dataset, error) {
	view, err := Adapt(p.raw, flow)
	if err != nil {
		return nil, fmt.Errorf("adapt template %s: %w", templateID, err)
	}
	return &Dataset{
		TemplateID: templateID,
		Flow:       flow,
		Raw:        p.raw,
		View:       view,
		CachedAt:   p.cachedAt,
		Digest:     p.digest,
		Source:     outcome,
	}, nil
}

// publish makes ds current unless a newer payload was already published for
// the same key; a background refresh can land before the hit that started it.
func (l *Loader) publish(ds *Dataset) {
	key := loadKey(ds.TemplateID, ds.Flow)
	l.mu.Lock()
	if existing, ok := l.current[key]; ok && ds.CachedAt.Before(existing.CachedAt) {
		l.mu.Unlock()
		return
	}
	l.current[key] = ds
	l.mu.Unlock()
	l.events.publish(ds)
}

// Subscribe registers fn for every published dataset. Call the returned
// function to unsubscribe.
func (l *Loader) Subscribe(fn Listener) func() {
	return l.events.add(fn)
}

func (l *Loader) Subscribers() int {
	return l.events.len()
}

// Current returns the last dataset published for the template and flow.
func (l *Loader) Current(templateID string, flow store.FlowType) (*Dataset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, ok := l.current[loadKey(templateID, flow)]
	return ds, ok
}

// InFlight reports whether a load or forced reload is running for the pair.
func (l *Loader) InFlight(templateID string, flow store.FlowType) bool {
	if flow == "" {
		flow = store.FlowCheckin
	}
	return l.loads.InFlight(loadKey(templateID, flow)) ||
		l.raw.InFlight(flight.Key("reference", templateID, "force"))
}

// Invalidate drops the cached payload and the published views for a template.
func (l *Loader) Invalidate(ctx context.Context, templateID string) error {
	if err := l.store.DeleteDataset(ctx, templateID); err != nil {
		return err
	}
	prefix := flight.Key("reference", templateID, "")
	l.mu.Lock()
	for key := range l.current {
		if strings.HasPrefix(key, prefix) {
			delete(l.current, key)
		}
	}
	l.mu.Unlock()
	return nil
}

// Forget drops every published view without touching the store. Used after
// the store itself has been reset.
func (l *Loader) Forget() {
	l.mu.Lock()
	clear(l.current)
	l.mu.Unlock()
}

// datasetSource adapts the loader to cache.Source.
type datasetSource struct {
	loader     *Loader
	templateID string
	flow       store.FlowType
}

func (s *datasetSource) Cached(ctx context.Context) (*cache.Entry[payload], error) {
	entry, err := s.loader.store.GetDataset(ctx, s.templateID)
	if err != nil {
		if errors.Is(err, etaterrors.ErrStorageCorrupt) {
			s.discard(ctx, err)
			return nil, nil
		}
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	if err := ValidatePayload(entry.Payload); err != nil {
		s.discard(ctx, err)
		return nil, nil
	}

	digest := entry.Metadata[metaDigest]
	return &cache.Entry[payload]{
		Value:    payload{raw: entry.Payload, cachedAt: entry.CachedAt, digest: digest},
		CachedAt: entry.CachedAt,
		Metadata: entry.Metadata,
	}, nil
}

func (s *datasetSource) discard(ctx context.Context, cause error) {
	slog.Warn("Discarding corrupt cached template", "template", s.templateID, "error", cause)
	if err := s.loader.store.DeleteDataset(ctx, s.templateID); err != nil {
		slog.Warn("Failed to discard corrupt cached template", "template", s.templateID, "error", err)
	}
}

func (s *datasetSource) Fetch(ctx context.Context) (payload, error) {
	raw, err := s.loader.fetcher.Fetch(ctx, s.templateID)
	if err != nil {
		return payload{}, err
	}
	if err := ValidatePayload(raw); err != nil {
		return payload{}, etaterrors.Network(fmt.Sprintf("template %s from endpoint is malformed: %v", s.templateID, err))
	}
	digest, err := Digest(raw)
	if err != nil {
		return payload{}, etaterrors.Network(fmt.Sprintf("template %s from endpoint is malformed: %v", s.templateID, err))
	}
	return payload{raw: json.RawMessage(raw), cachedAt: s.loader.now().UTC(), digest: digest}, nil
}

func (s *datasetSource) Store(ctx context.Context, p payload) error {
	meta := map[string]string{metaDigest: p.digest}
	if s.loader.endpoint != "" {
		meta[metaEndpoint] = s.loader.endpoint
	}
	return s.loader.store.PutDataset(ctx, &store.DatasetEntry{
		TemplateID: s.templateID,
		Payload:    p.raw,
		CachedAt:   p.cachedAt,
		Metadata:   meta,
	})
}

// Revalidate routes the background refresh through its own single-flight
// key and republishes the refreshed view for the flow that triggered it.
func (s *datasetSource) Revalidate(ctx context.Context) error {
	p, err := s.loader.refresh(ctx, s.templateID, "revalidate")
	if err == nil && s.flow != "" {
		var ds *Dataset
		ds, err = s.loader.build(s.templateID, s.flow, p, cache.OutcomeNetwork)
		if err == nil {
			s.loader.publish(ds)
		}
	}
	if s.loader.onReval != nil {
		s.loader.onReval(s.templateID, err)
	}
	return err
}
