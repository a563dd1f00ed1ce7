package agent

import (
	"fmt"
	"os"
	"sync"
	"text/template"
)

// PromptCache parses prompt template files once per process. Templates run
// with missingkey=error so a misspelled field fails the render instead of
// printing "<no value>" into the prompt.
type PromptCache struct {
	mu        sync.RWMutex
	funcs     template.FuncMap
	templates map[string]*template.Template
}

// NewPromptCache creates a cache whose templates can call funcs.
func NewPromptCache(funcs template.FuncMap) *PromptCache {
	return &PromptCache{
		funcs:     funcs,
		templates: make(map[string]*template.Template),
	}
}

// LoadTemplate returns the parsed template at path, reading the file on the
// first call only.
func (pc *PromptCache) LoadTemplate(name, path string) (*template.Template, error) {
	pc.mu.RLock()
	tmpl, ok := pc.templates[path]
	pc.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompt file: %w", err)
	}

	tmpl, err = template.New(name).Funcs(pc.funcs).Option("missingkey=error").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if cached, ok := pc.templates[path]; ok {
		return cached, nil
	}
	pc.templates[path] = tmpl
	return tmpl, nil
}
