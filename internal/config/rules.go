package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules extends the built-in matching tables without a rebuild.
//
//	matching_rules:
//	  abbreviations:
//	    pike: pk
//	  header_aliases:
//	    docket: dcn
type Rules struct {
	Abbreviations map[string]string `yaml:"abbreviations"`
	HeaderAliases map[string]string `yaml:"header_aliases"`
}

// LoadRules reads a rules file. An empty path yields empty rules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read rules %s", path)
	}

	// The YAML has a top-level "matching_rules" key
	var wrapper struct {
		Rules Rules `yaml:"matching_rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "config: parse rules")
	}

	r := &wrapper.Rules
	for k, v := range r.HeaderAliases {
		if strings.TrimSpace(v) == "" {
			return nil, eris.Errorf("config: header alias %q has no target field", k)
		}
	}
	return r, nil
}
