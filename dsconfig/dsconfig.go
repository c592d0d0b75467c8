// Package dsconfig loads the data source's own configuration: the
// read-only flag, the data-source-wide cutoff, where the backing bbolt
// file lives, and any additional per-record-root indexes to declare
// alongside the mandatory Key-DataSet-Id index. Unmarshaled with
// gopkg.in/yaml.v3.
package dsconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/4degrees/datacentric-lib/kvport"
	"github.com/4degrees/datacentric-lib/tid"
)

// IndexDecl is one metadata-declared additional index, parsed from a
// compact string form ("field:+1,field2:-1") into the ordered field list
// kvport.IndexSpec expects.
type IndexDecl struct {
	Name   string `yaml:"name"`
	Fields string `yaml:"fields"`
}

// Parse turns the compact "field:+1,field2:-1" form into an IndexSpec,
// rejecting any other shape at parse time rather than at first collection
// access.
func (d IndexDecl) Parse() (kvport.IndexSpec, error) {
	spec := kvport.IndexSpec{Name: d.Name}
	if d.Fields == "" {
		return spec, fmt.Errorf("dsconfig: index %q declares no fields", d.Name)
	}
	start := 0
	parsePair := func(pair string) error {
		colon := -1
		for i := 0; i < len(pair); i++ {
			if pair[i] == ':' {
				colon = i
				break
			}
		}
		if colon < 0 {
			return fmt.Errorf("dsconfig: index %q: malformed field spec %q, want field:+1 or field:-1", d.Name, pair)
		}
		field := pair[:colon]
		dirStr := pair[colon+1:]
		var dir int
		switch dirStr {
		case "+1":
			dir = 1
		case "-1":
			dir = -1
		default:
			return fmt.Errorf("dsconfig: index %q: field %q has invalid direction %q", d.Name, field, dirStr)
		}
		spec.Fields = append(spec.Fields, kvport.SortField{Field: field, Dir: dir})
		return nil
	}
	for i := 0; i <= len(d.Fields); i++ {
		if i == len(d.Fields) || d.Fields[i] == ',' {
			if err := parsePair(d.Fields[start:i]); err != nil {
				return kvport.IndexSpec{}, err
			}
			start = i + 1
		}
	}
	return spec, nil
}

// RootIndexes names the additional indexes declared for a given record
// root, beyond the mandatory Key-DataSet-Id index every root always gets.
type RootIndexes struct {
	Root    string      `yaml:"root"`
	Indexes []IndexDecl `yaml:"indexes"`
}

// Config is the data source's own settings, independent of any particular
// dataset's detail record.
type Config struct {
	ReadOnly     bool          `yaml:"readOnly"`
	GlobalCutoff string        `yaml:"globalCutoff"` // hex TID, empty means unset
	DataFilePath string        `yaml:"dataFilePath"`
	Indexes      []RootIndexes `yaml:"indexes"`
}

// Load reads and unmarshals a Config from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dsconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("dsconfig: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}

// Cutoff decodes GlobalCutoff, returning nil if it is unset.
func (c *Config) Cutoff() (*tid.TID, error) {
	if c.GlobalCutoff == "" {
		return nil, nil
	}
	b, err := decodeHex(c.GlobalCutoff)
	if err != nil {
		return nil, fmt.Errorf("dsconfig: globalCutoff %q is not valid hex: %w", c.GlobalCutoff, err)
	}
	t, err := tid.FromBytes(b)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// ResolveExtraIndexes builds the root->[]IndexSpec map collcache.Cache.SetExtra
// consumes, failing on the first malformed declaration so a bad config is
// reported at construction time, not at first collection access.
func (c *Config) ResolveExtraIndexes() (map[string][]kvport.IndexSpec, error) {
	out := make(map[string][]kvport.IndexSpec, len(c.Indexes))
	for _, ri := range c.Indexes {
		specs := make([]kvport.IndexSpec, 0, len(ri.Indexes))
		for _, decl := range ri.Indexes {
			spec, err := decl.Parse()
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
		out[ri.Root] = specs
	}
	return out, nil
}
