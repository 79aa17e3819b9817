package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirine-ai/sirine/pkg/provider/imagen"
	"github.com/sirine-ai/sirine/pkg/provider/live"
	"github.com/sirine-ai/sirine/pkg/provider/llm"
	"github.com/sirine-ai/sirine/pkg/provider/stt"
	"github.com/sirine-ai/sirine/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factorySet holds the registered constructors for one provider interface.
// label names the interface in error messages, e.g. "stt".
type factorySet[P any] struct {
	mu        sync.RWMutex
	label     string
	factories map[string]func(ProviderEntry) (P, error)
}

func newFactorySet[P any](label string) *factorySet[P] {
	return &factorySet[P]{
		label:     label,
		factories: make(map[string]func(ProviderEntry) (P, error)),
	}
}

// register stores factory under name, replacing any previous registration.
func (s *factorySet[P]) register(name string, factory func(ProviderEntry) (P, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = factory
}

// create runs the factory registered under entry.Name.
func (s *factorySet[P]) create(entry ProviderEntry) (P, error) {
	s.mu.RLock()
	factory, ok := s.factories[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, s.label, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to constructors for each provider interface.
// It is safe for concurrent use.
type Registry struct {
	live   *factorySet[live.Provider]
	llm    *factorySet[llm.Provider]
	stt    *factorySet[stt.Provider]
	tts    *factorySet[tts.Provider]
	imagen *factorySet[imagen.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:   newFactorySet[live.Provider]("live"),
		llm:    newFactorySet[llm.Provider]("llm"),
		stt:    newFactorySet[stt.Provider]("stt"),
		tts:    newFactorySet[tts.Provider]("tts"),
		imagen: newFactorySet[imagen.Provider]("imagen"),
	}
}

// RegisterLive registers a live speech channel factory under name. Later
// registrations with the same name win.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.live.register(name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// RegisterImagen registers an image generation provider factory under name.
func (r *Registry) RegisterImagen(name string, factory func(ProviderEntry) (imagen.Provider, error)) {
	r.imagen.register(name, factory)
}

// CreateLive instantiates the live channel provider registered under
// entry.Name, or reports [ErrProviderNotRegistered].
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	return r.live.create(entry)
}

// CreateLLM instantiates the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateSTT instantiates the STT provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}

// CreateImagen instantiates the image generation provider registered under
// entry.Name.
func (r *Registry) CreateImagen(entry ProviderEntry) (imagen.Provider, error) {
	return r.imagen.create(entry)
}
