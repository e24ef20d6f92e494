package engine

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PipelineFile is an on-disk pipeline definition that can seed the
// pipeline store.
type PipelineFile struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Steps       []PipelineFileStep `yaml:"steps"`
}

// PipelineFileStep names one tool to append, in order.
type PipelineFileStep struct {
	Tool string `yaml:"tool"`
}

// PipelineFileLoader defines an interface for loading a PipelineFile from
// a source (e.g., file, bytes, etc.).
type PipelineFileLoader interface {
	Load(source string) (*PipelineFile, error)
	Format() string // e.g., "yaml", "json"
}

// loaderRegistry holds registered PipelineFileLoaders by format name.
var loaderRegistry = make(map[string]PipelineFileLoader)

// RegisterPipelineFileLoader registers a new loader for a given format.
func RegisterPipelineFileLoader(loader PipelineFileLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetPipelineFileLoader retrieves a loader by format name (e.g., "yaml").
func GetPipelineFileLoader(format string) (PipelineFileLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PipelineFileLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PipelineFile, error) {
	return LoadPipelineFile(path)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterPipelineFileLoader(YAMLLoader{})
}

// LoadPipelineFile parses a YAML pipeline file and validates it.
func LoadPipelineFile(path string) (*PipelineFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline file: %w", err)
	}
	defer f.Close()

	var pf PipelineFile
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks the structural invariants of a pipeline file.
func (pf *PipelineFile) Validate() error {
	if strings.TrimSpace(pf.Name) == "" {
		return fmt.Errorf("pipeline file is missing a name")
	}
	if len(pf.Steps) == 0 {
		return fmt.Errorf("pipeline file '%s' has no steps", pf.Name)
	}
	for i, step := range pf.Steps {
		if strings.TrimSpace(step.Tool) == "" {
			return fmt.Errorf("pipeline file '%s': step %d is missing a tool id", pf.Name, i)
		}
	}
	return nil
}

// ToolIDs returns the tool ids in file order, ready for
// PipelineStore.ReplaceAll.
func (pf *PipelineFile) ToolIDs() []string {
	ids := make([]string, 0, len(pf.Steps))
	for _, step := range pf.Steps {
		ids = append(ids, step.Tool)
	}
	return ids
}
