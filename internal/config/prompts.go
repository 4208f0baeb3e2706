package config

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"learning-agent/internal/logger"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

//go:embed prompts/default.yaml
var promptFiles embed.FS

const defaultPromptsFile = "prompts/default.yaml"

// ModePrompt is the rewrite instruction used for one enhancer mode
type ModePrompt struct {
	Strategy    string `yaml:"strategy"`
	Instruction string `yaml:"instruction"`
}

// TemplatePrompt pairs a system message with a user message template
type TemplatePrompt struct {
	System   string `yaml:"system"`
	Template string `yaml:"template"`
}

// PromptCatalog holds every prompt the backend sends to the model
type PromptCatalog struct {
	DefaultSystemPrompt string                `yaml:"default_system_prompt"`
	Intents             []string              `yaml:"intents"`
	Classifier          TemplatePrompt        `yaml:"classifier"`
	Rewriter            TemplatePrompt        `yaml:"rewriter"`
	Modes               map[string]ModePrompt `yaml:"modes"`
	IntentGuidance      map[string]string     `yaml:"intent_guidance"`
	SocraticStopPhrases []string              `yaml:"socratic_stop_phrases"`

	classifier *template.Template
	rewriter   *template.Template
}

// ClassifierData fills the classifier template
type ClassifierData struct {
	Prompt string
}

// RewriterData fills the rewriter template
type RewriterData struct {
	Prompt         string
	Mode           string
	Intent         string
	IntentGuidance string
	Instruction    string
	Strategy       string
}

// LoadPromptCatalog reads the catalog from path, or the embedded default when path is empty
func LoadPromptCatalog(path string) (*PromptCatalog, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = promptFiles.ReadFile(defaultPromptsFile)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt catalog: %w", err)
	}

	catalog, err := ParsePromptCatalog(data)
	if err != nil {
		return nil, err
	}

	source := path
	if source == "" {
		source = "embedded"
	}
	logger.Log.WithFields(logrus.Fields{
		"source": source,
		"modes":  len(catalog.Modes),
	}).Info("Prompt catalog loaded")
	return catalog, nil
}

// ParsePromptCatalog decodes and validates a YAML catalog
func ParsePromptCatalog(data []byte) (*PromptCatalog, error) {
	var catalog PromptCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompt catalog: %w", err)
	}
	if err := catalog.validate(); err != nil {
		return nil, err
	}

	var err error
	if catalog.classifier, err = template.New("classifier").Parse(catalog.Classifier.Template); err != nil {
		return nil, fmt.Errorf("invalid classifier template: %w", err)
	}
	if catalog.rewriter, err = template.New("rewriter").Parse(catalog.Rewriter.Template); err != nil {
		return nil, fmt.Errorf("invalid rewriter template: %w", err)
	}
	return &catalog, nil
}

func (c *PromptCatalog) validate() error {
	var errs []error
	if strings.TrimSpace(c.DefaultSystemPrompt) == "" {
		errs = append(errs, errors.New("default_system_prompt is required"))
	}
	if c.Classifier.Template == "" {
		errs = append(errs, errors.New("classifier.template is required"))
	}
	if c.Rewriter.Template == "" {
		errs = append(errs, errors.New("rewriter.template is required"))
	}
	if len(c.Intents) == 0 {
		errs = append(errs, errors.New("at least one intent is required"))
	}
	for name, mode := range c.Modes {
		if mode.Strategy == "" || mode.Instruction == "" {
			errs = append(errs, fmt.Errorf("mode %q needs both strategy and instruction", name))
		}
	}
	return errors.Join(errs...)
}

// Mode returns the rewrite instruction for a mode
func (c *PromptCatalog) Mode(name string) (ModePrompt, bool) {
	mode, ok := c.Modes[name]
	return mode, ok
}

// IsKnownIntent reports whether intent is one of the catalog's intent labels
func (c *PromptCatalog) IsKnownIntent(intent string) bool {
	for _, known := range c.Intents {
		if known == intent {
			return true
		}
	}
	return false
}

// RenderClassifier builds the classifier user message
func (c *PromptCatalog) RenderClassifier(data ClassifierData) (string, error) {
	return render(c.classifier, data)
}

// RenderRewriter builds the rewriter user message
func (c *PromptCatalog) RenderRewriter(data RewriterData) (string, error) {
	return render(c.rewriter, data)
}

func render(tmpl *template.Template, data any) (string, error) {
	if tmpl == nil {
		return "", errors.New("prompt catalog was not parsed")
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
