// Package planfile reads migration plans from YAML and resolves them into
// executable pipeline paths.
package planfile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/animus-migrate/internal/binding"
	"github.com/animus-labs/animus-migrate/internal/domain"
	"github.com/animus-labs/animus-migrate/internal/formats"
)

var ErrInvalidPlanFile = errors.New("invalid plan file")

// File is the decoded document.
type File struct {
	Formats []formats.Format `yaml:"formats"`
	Plans   []Plan           `yaml:"plans"`
}

type Plan struct {
	ID              string                `yaml:"id"`
	Transformations []TransformationEntry `yaml:"transformations"`
	Delivery        ServiceEntry          `yaml:"delivery"`
}

// DescriptorRef locates the technical descriptor of a service. Relative
// file locations are resolved against the plan file's directory.
type DescriptorRef struct {
	Location string `yaml:"location"`
	Format   string `yaml:"format"`
	Resource string `yaml:"resource"`
	Method   string `yaml:"method"`
}

type ServiceEntry struct {
	Service    domain.ServiceRef        `yaml:"service"`
	Descriptor DescriptorRef            `yaml:"descriptor"`
	Names      map[string]NameList      `yaml:"names"`
	Parameters []binding.SemanticRecord `yaml:"parameters"`
	Outcomes   []binding.SemanticRecord `yaml:"outcomes"`
}

type TransformationEntry struct {
	ServiceEntry `yaml:",inline"`
	Cardinality  string `yaml:"cardinality"`
	InputFormat  string `yaml:"input_format"`
	OutputFormat string `yaml:"output_format"`
}

// NameList accepts a single semantic name or a list of them.
type NameList []string

func (n *NameList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*n = NameList{node.Value}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		*n = names
		return nil
	default:
		return fmt.Errorf("line %d: semantic names must be a string or a list", node.Line)
	}
}

func (e ServiceEntry) mapping() binding.NameMapping {
	out := make(binding.NameMapping, len(e.Names))
	for id, names := range e.Names {
		out[id] = append([]string(nil), names...)
	}
	return out
}

func Decode(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlanFile, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Decode(data)
}

func (f *File) Validate() error {
	if len(f.Plans) == 0 {
		return fmt.Errorf("%w: no plans", ErrInvalidPlanFile)
	}
	seen := make(map[string]bool, len(f.Plans))
	for i, p := range f.Plans {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("%w: plan %d has no id", ErrInvalidPlanFile, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate plan id %q", ErrInvalidPlanFile, id)
		}
		seen[id] = true
		for j, t := range p.Transformations {
			where := fmt.Sprintf("plan %q transformation %d", id, j)
			if err := t.ServiceEntry.validate(where); err != nil {
				return err
			}
			if _, err := domain.ParseCardinality(t.Cardinality); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidPlanFile, where, err)
			}
			if strings.TrimSpace(t.InputFormat) == "" || strings.TrimSpace(t.OutputFormat) == "" {
				return fmt.Errorf("%w: %s: input_format and output_format are required", ErrInvalidPlanFile, where)
			}
		}
		if err := p.Delivery.validate(fmt.Sprintf("plan %q delivery", id)); err != nil {
			return err
		}
	}
	return nil
}

func (e ServiceEntry) validate(where string) error {
	switch {
	case strings.TrimSpace(e.Service.ID) == "":
		return fmt.Errorf("%w: %s: service id is required", ErrInvalidPlanFile, where)
	case strings.TrimSpace(e.Descriptor.Location) == "":
		return fmt.Errorf("%w: %s: descriptor location is required", ErrInvalidPlanFile, where)
	case strings.TrimSpace(e.Descriptor.Resource) == "":
		return fmt.Errorf("%w: %s: descriptor resource is required", ErrInvalidPlanFile, where)
	case strings.TrimSpace(e.Descriptor.Method) == "":
		return fmt.Errorf("%w: %s: descriptor method is required", ErrInvalidPlanFile, where)
	}
	return nil
}
