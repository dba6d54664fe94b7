package detector

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"derbyflow/internal/config"
	"derbyflow/internal/logging"
	"derbyflow/internal/services"
)

// Deps carries shared collaborators into detector constructors.
type Deps struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	// Backend replaces the HTTP inference backend when set.
	Backend Backend
}

// Factory builds a detector from its configuration.
type Factory func(spec config.Detector, deps Deps) (Detector, error)

// Registry maps detector identifiers to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding the built-in detectors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(HumanID, NewHuman)
	r.Register(FaceID, NewFace)
	return r
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, factory Factory) {
	r.factories[normalizeID(id)] = factory
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Validate checks that every detector entry names a registered detector.
func (r *Registry) Validate(specs []config.Detector) error {
	for _, spec := range specs {
		if _, ok := r.factories[normalizeID(spec.ID)]; !ok {
			return unknownDetector(spec.ID, r.IDs())
		}
	}
	return nil
}

// Build constructs the detector named by spec.ID.
func (r *Registry) Build(spec config.Detector, deps Deps) (Detector, error) {
	factory, ok := r.factories[normalizeID(spec.ID)]
	if !ok {
		return nil, unknownDetector(spec.ID, r.IDs())
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	det, err := factory(spec, deps)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "detector", "build", fmt.Sprintf("Detector %q failed to initialize", spec.ID), err)
	}
	return det, nil
}

// BuildAll constructs every detector in specs. On failure the detectors
// already built are released.
func (r *Registry) BuildAll(specs []config.Detector, deps Deps) ([]Detector, error) {
	built := make([]Detector, 0, len(specs))
	for _, spec := range specs {
		det, err := r.Build(spec, deps)
		if err != nil {
			ReleaseAll(built)
			return nil, err
		}
		built = append(built, det)
	}
	return built, nil
}

// ReleaseAll releases every detector and returns the first error.
func ReleaseAll(detectors []Detector) error {
	var first error
	for _, det := range detectors {
		if err := det.Release(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func unknownDetector(id string, known []string) error {
	return services.Wrap(services.ErrConfiguration, "detector", "resolve",
		fmt.Sprintf("Unknown detector %q (known: %s)", id, strings.Join(known, ", ")), nil)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
