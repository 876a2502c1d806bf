package composer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-sim/internal/entity"
)

//go:embed schema/scenario.schema.json
var scenarioSchemaJSON string

var scenarioSchema = jsonschema.MustCompileString("scenario.schema.json", scenarioSchemaJSON)

// Scenario is a composition read from a file: the parameters plus every
// declaration, in order.
//
//	parameters:
//	  startDate: "2024-01-01"
//	  intervals: 1440
//	entities:
//	  - type: host
//	    entity: {name: house}
//	  - type: meter
//	    entity: {name: grid}
type Scenario struct {
	Parameters   entity.Parameters
	Declarations []entity.Descriptor
}

// ReadScenario reads a JSON, YAML or TOML scenario file; the extension
// picks the format.
func ReadScenario(reg *entity.Registry, path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return ParseScenario(reg, filepath.Ext(path), data)
}

// ParseScenario decodes scenario data in the format named by ext.
func ParseScenario(reg *entity.Registry, ext string, data []byte) (*Scenario, error) {
	doc := make(map[string]any)
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidScenario, ext)
	}

	// Round-trip through JSON so the validator sees plain JSON types
	// whatever reader produced the tree.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	var generic any
	if err := json.Unmarshal(canonical, &generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := scenarioSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	var raw struct {
		Parameters map[string]any   `json:"parameters"`
		Entities   []map[string]any `json:"entities"`
	}
	if err := json.Unmarshal(canonical, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	params, err := entity.ParametersFromMap(raw.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	s := &Scenario{Parameters: params, Declarations: make([]entity.Descriptor, 0, len(raw.Entities))}
	for i, m := range raw.Entities {
		d, err := reg.DeserializeMap(m)
		if err != nil {
			return nil, fmt.Errorf("%w: entities[%d]: %w", ErrInvalidScenario, i, err)
		}
		s.Declarations = append(s.Declarations, d)
	}
	return s, nil
}

// Apply configures the composer and declares every entity of s. Nothing
// changes unless the whole scenario fits.
func (c *Composer) Apply(s *Scenario) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Status() != StatusInactive {
		return ErrNotInactive
	}
	if c.params != nil {
		return ErrAlreadyConfigured
	}
	if err := s.Parameters.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	seen := make(map[string]bool, len(s.Declarations))
	for _, d := range s.Declarations {
		_, isHost := d.(*entity.HostDescriptor)
		if c.declaredLocked(d.Name(), isHost) {
			return fmt.Errorf("%w: %s", ErrDuplicateEntity, d.Name())
		}
		if seen[d.Name()] {
			return fmt.Errorf("%w: %s", ErrDuplicateEntity, d.Name())
		}
		seen[d.Name()] = true
	}

	if err := c.configureLocked(s.Parameters); err != nil {
		return err
	}
	for _, d := range s.Declarations {
		if err := c.addLocked(d); err != nil {
			return err
		}
	}
	c.logger.Info("scenario applied", "declarations", len(s.Declarations))
	return nil
}

// LoadScenario reads the scenario at path and applies it.
func (c *Composer) LoadScenario(path string) error {
	s, err := ReadScenario(c.registry, path)
	if err != nil {
		return err
	}
	return c.Apply(s)
}
