package pause

import (
	"sync"

	"github.com/BYTE-6D65/pausetimer/pkg/registry"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
)

// Registry shares one detector per distinct Config. Timers configured with
// equal configs observe the same detector, so a process runs at most one
// probe goroutine per config no matter how many timers it creates.
//
// Detectors are reference counted: each Acquire takes a Lease, and the
// detector is shut down once its last lease is released. Resolve pins a
// detector for the life of the registry instead.
type Registry struct {
	opts      []Option
	detectors *registry.RefCounted[Config, Detector]
}

// NewRegistry creates a registry whose detectors are built with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts: opts,
		detectors: registry.NewRefCounted(func(_ Config, d Detector) {
			d.Shutdown()
		}),
	}
}

// Lease is a reference to a shared detector.
type Lease struct {
	detector Detector
	release  func()
}

// Detector returns the leased detector.
func (l *Lease) Detector() Detector {
	return l.detector
}

// Release drops the reference. Safe to call more than once.
func (l *Lease) Release() {
	l.release()
}

// Acquire returns a lease on the detector for cfg, constructing and starting
// it on first use.
func (r *Registry) Acquire(cfg Config) *Lease {
	d, release := r.detectors.Acquire(cfg.Normalize(), r.create)
	return &Lease{detector: d, release: release}
}

// Resolve returns the detector for cfg and keeps it running until the
// registry is shut down.
func (r *Registry) Resolve(cfg Config) Detector {
	return r.detectors.Pin(cfg.Normalize(), r.create)
}

// Lookup returns the live detector for cfg, if any.
func (r *Registry) Lookup(cfg Config) (Detector, bool) {
	return r.detectors.Peek(cfg.Normalize())
}

// Refs returns the number of outstanding leases for cfg.
func (r *Registry) Refs(cfg Config) int {
	return r.detectors.Refs(cfg.Normalize())
}

// Len returns the number of live detectors.
func (r *Registry) Len() int {
	return r.detectors.Len()
}

// Configs lists the configs of all live detectors.
func (r *Registry) Configs() []Config {
	entries := r.detectors.List()
	configs := make([]Config, 0, len(entries))
	for _, e := range entries {
		configs = append(configs, e.Key)
	}
	return configs
}

// Shutdown stops every detector and empties the registry. Outstanding leases
// become no-ops; later Acquires build fresh detectors.
func (r *Registry) Shutdown() {
	r.detectors.Clear()
}

func (r *Registry) create(cfg Config) Detector {
	if cfg.Kind != KindClockDrift {
		return NewDisabled()
	}
	d := NewClockDrift(cfg, r.opts...)
	d.Start()
	return d
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry. Its detectors report to
// telemetry.Default.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(WithMetrics(telemetry.Default()))
	})
	return defaultRegistry
}

// Resolve returns the process-wide pinned detector for cfg.
func Resolve(cfg Config) Detector {
	return DefaultRegistry().Resolve(cfg)
}
