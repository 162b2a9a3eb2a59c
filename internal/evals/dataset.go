package evals

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Dataset is a versioned collection of evaluation cases.
type Dataset struct {
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Cases       []Case `json:"cases" yaml:"cases"`
}

// LoadDataset reads and validates a dataset file. JSON is the primary
// format; files ending in .yaml or .yml are parsed as YAML.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read dataset %s", path)
	}

	var ds Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &ds); err != nil {
			return nil, eris.Wrapf(err, "parse dataset %s", path)
		}
	default:
		if err := json.Unmarshal(data, &ds); err != nil {
			return nil, eris.Wrapf(err, "parse dataset %s", path)
		}
	}

	if err := ds.validate(); err != nil {
		return nil, eris.Wrapf(err, "invalid dataset %s", path)
	}

	return &ds, nil
}

func (d *Dataset) validate() error {
	if len(d.Cases) == 0 {
		return eris.New("dataset contains no cases")
	}

	seen := make(map[string]bool, len(d.Cases))
	for i := range d.Cases {
		c := &d.Cases[i]
		if c.ID == "" {
			return eris.Errorf("case at index %d has an empty id", i)
		}
		if seen[c.ID] {
			return eris.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true

		if c.Category == "" {
			c.Category = "general"
		}
	}

	return nil
}
