package council

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/council/internal/model"
)

// Built-in template names.
const (
	TemplateStandard   = "standard"
	TemplateQuick      = "quick"
	TemplateFreeForAll = "freeForAll"

	// TemplateCustom marks sessions created from operator-supplied rounds.
	TemplateCustom = "custom"
)

const defaultWrapUp = "About 30 seconds remain in this round. Summarize your position in one or two sentences."

func builtinTemplates() []model.Template {
	return []model.Template{
		{
			Name:        TemplateStandard,
			Description: "Six structured rounds from opening statements to final positions.",
			Rounds: []model.Round{
				{Name: "Opening Statements", DurationSeconds: 300, Prompt: "Introduce your initial perspective on the topic. What stands out to you first?", WrapUpPrompt: defaultWrapUp},
				{Name: "Exploration", DurationSeconds: 600, Prompt: "Explore the problem space. Raise the questions, constraints and unknowns that matter.", WrapUpPrompt: defaultWrapUp},
				{Name: "Challenge", DurationSeconds: 480, Prompt: "Challenge the strongest ideas raised so far. Where are the weak assumptions?", WrapUpPrompt: defaultWrapUp},
				{Name: "Synthesis", DurationSeconds: 480, Prompt: "Find common ground. Which ideas survive the challenge and how do they fit together?", WrapUpPrompt: defaultWrapUp},
				{Name: "Proposals", DurationSeconds: 300, Prompt: "Propose concrete next steps the operator could act on.", WrapUpPrompt: defaultWrapUp},
				{Name: "Final Positions", DurationSeconds: 240, Prompt: "State your final position and your confidence in it.", WrapUpPrompt: defaultWrapUp},
			},
		},
		{
			Name:        TemplateQuick,
			Description: "Three short rounds for a fast decision.",
			Rounds: []model.Round{
				{Name: "Pitch", DurationSeconds: 180, Prompt: "Pitch your recommendation in a few sentences.", WrapUpPrompt: defaultWrapUp},
				{Name: "Debate", DurationSeconds: 300, Prompt: "Debate the pitches. Push back where you disagree.", WrapUpPrompt: defaultWrapUp},
				{Name: "Verdict", DurationSeconds: 180, Prompt: "Give your verdict and the single most important reason for it.", WrapUpPrompt: defaultWrapUp},
			},
		},
		{
			Name:        TemplateFreeForAll,
			Description: "Open-ended discussion with no rounds or timer.",
			FreeForAll:  true,
		},
	}
}

// Catalog holds the named round templates sessions are created from.
// Safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]model.Template
}

// NewCatalog returns a catalog seeded with the built-in templates.
func NewCatalog() *Catalog {
	c := &Catalog{templates: make(map[string]model.Template)}
	for _, t := range builtinTemplates() {
		c.templates[t.Name] = t
	}
	return c
}

// Get returns a copy of the named template.
func (c *Catalog) Get(name string) (model.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	if !ok {
		return model.Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return cloneTemplate(t), nil
}

// List returns every template, built-ins first and then custom ones by name.
func (c *Catalog) List() []model.Template {
	c.mu.RLock()
	defer c.mu.RUnlock()

	builtin := map[string]int{TemplateStandard: 0, TemplateQuick: 1, TemplateFreeForAll: 2}
	out := make([]model.Template, 0, len(c.templates))
	for _, t := range c.templates {
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		bi, iok := builtin[out[i].Name]
		bj, jok := builtin[out[j].Name]
		switch {
		case iok && jok:
			return bi < bj
		case iok != jok:
			return iok
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out
}

// Register validates and adds or replaces a custom template. Built-in
// templates cannot be replaced.
func (c *Catalog) Register(t model.Template) (model.Template, error) {
	if err := t.Validate(); err != nil {
		return model.Template{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if t.Name == TemplateCustom {
		return model.Template{}, fmt.Errorf("%w: template name %q is reserved", ErrInvalidConfig, t.Name)
	}
	for _, b := range builtinTemplates() {
		if b.Name == t.Name {
			return model.Template{}, fmt.Errorf("%w: template %q is built in", ErrInvalidConfig, t.Name)
		}
	}
	t = cloneTemplate(t)
	for i := range t.Rounds {
		t.Rounds[i].WrapUpSent = false
	}

	c.mu.Lock()
	c.templates[t.Name] = t
	c.mu.Unlock()
	return cloneTemplate(t), nil
}

type templatesFile struct {
	Templates []model.Template `yaml:"templates"`
}

// LoadTemplatesFile registers every template in a YAML file of the form
// `templates: [{name, description, rounds: [...]}]`. Returns the number loaded.
func (c *Catalog) LoadTemplatesFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("council: read templates file: %w", err)
	}
	var f templatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("council: parse templates file %s: %w", path, err)
	}
	for i, t := range f.Templates {
		if _, err := c.Register(t); err != nil {
			return i, fmt.Errorf("council: templates[%d] in %s: %w", i, path, err)
		}
	}
	return len(f.Templates), nil
}

func cloneTemplate(t model.Template) model.Template {
	if t.Rounds != nil {
		t.Rounds = append([]model.Round(nil), t.Rounds...)
	}
	return t
}
