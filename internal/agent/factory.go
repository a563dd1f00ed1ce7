package agent

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

// Constructor builds a backend from its decoded settings.
type Constructor func(s Settings, opts ...Option) (Client, error)

// Registry maps llm_type names to backend constructors. Lookup is case
// insensitive.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns a registry holding every built-in backend.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}

	r.Register(BackendAnthropic, func(s Settings, opts ...Option) (Client, error) {
		if s.APIKey == "" {
			s.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return NewHTTPClient(BackendAnthropic, s, opts...)
	})
	r.Register(BackendOpenAIHTTP, func(s Settings, opts ...Option) (Client, error) {
		if s.APIKey == "" {
			s.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewHTTPClient(BackendOpenAIHTTP, s, opts...)
	})
	r.Register(BackendOpenAI, func(s Settings, opts ...Option) (Client, error) {
		if s.APIKey == "" {
			s.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return NewEinoClient(s, opts...), nil
	})
	r.Register(BackendMock, func(s Settings, opts ...Option) (Client, error) {
		return NewMockClient(nil), nil
	})

	return r
}

func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strings.ToLower(name)] = c
}

// Types lists the registered backend names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Create builds the backend named by llmType from the raw llm_config mapping.
// An unknown type is a ConfigurationError listing the supported ones.
func (r *Registry) Create(llmType string, raw map[string]any, opts ...Option) (Client, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[strings.ToLower(strings.TrimSpace(llmType))]
	r.mu.RUnlock()
	if !ok {
		return nil, ngerrors.InvalidKey("llm_type",
			fmt.Sprintf("unsupported LLM type %q, supported types: %s", llmType, strings.Join(r.Types(), ", ")))
	}

	settings, err := DecodeSettings(raw)
	if err != nil {
		return nil, err
	}
	return ctor(settings, opts...)
}

// DecodeSettings converts the free-form llm_config mapping into Settings.
func DecodeSettings(raw map[string]any) (Settings, error) {
	var s Settings
	if len(raw) == 0 {
		return s, nil
	}

	data, err := yaml.Marshal(raw)
	if err != nil {
		return s, ngerrors.InvalidKey("llm_config", err.Error())
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, ngerrors.InvalidKey("llm_config", err.Error())
	}
	return s, nil
}
