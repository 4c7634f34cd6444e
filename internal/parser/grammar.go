package parser

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed grammar.yaml
var grammarYAML []byte

// Record roles in the grammar.
const (
	roleHeader    = "header"
	roleForm      = "form"
	roleScheduleE = "schedule_e"
	roleOther     = "other"
)

// RecordLayout is the ordered field list of one record type.
type RecordLayout struct {
	Role       string   `yaml:"role"`
	MinFields  int      `yaml:"min_fields"`
	NameFields []string `yaml:"name_fields"`
	Fields     []string `yaml:"fields"`
}

// VersionGrammar holds the record layouts shared by a family of format versions.
type VersionGrammar struct {
	Name     string                  `yaml:"name"`
	Prefixes []string                `yaml:"prefixes"`
	Records  map[string]RecordLayout `yaml:"records"`
}

// Grammar maps format versions to record layouts.
type Grammar struct {
	Versions []VersionGrammar `yaml:"versions"`
}

// LoadGrammar parses a YAML grammar document.
func LoadGrammar(data []byte) (*Grammar, error) {
	var g Grammar
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse grammar: %w", err)
	}
	if len(g.Versions) == 0 {
		return nil, fmt.Errorf("parse grammar: no versions defined")
	}
	for _, v := range g.Versions {
		for code, rec := range v.Records {
			if len(rec.Fields) == 0 {
				return nil, fmt.Errorf("parse grammar: version %s record %s has no fields", v.Name, code)
			}
		}
	}
	return &g, nil
}

// DefaultGrammar returns the embedded grammar. It panics if the embedded
// document is invalid, which the package tests rule out.
func DefaultGrammar() *Grammar {
	g, err := LoadGrammar(grammarYAML)
	if err != nil {
		panic(err)
	}
	return g
}

// ForVersion returns the grammar family for a version string like "8.3".
func (g *Grammar) ForVersion(version string) (*VersionGrammar, bool) {
	version = strings.TrimSpace(version)
	for i := range g.Versions {
		for _, p := range g.Versions[i].Prefixes {
			if strings.HasPrefix(version, p) {
				return &g.Versions[i], true
			}
		}
	}
	return nil, false
}

// Layout returns the record layout whose code is the longest prefix of recordType.
func (v *VersionGrammar) Layout(recordType string) (string, RecordLayout, bool) {
	recordType = strings.ToUpper(strings.TrimSpace(recordType))
	best := ""
	for code := range v.Records {
		if strings.HasPrefix(recordType, code) && len(code) > len(best) {
			best = code
		}
	}
	if best == "" {
		return "", RecordLayout{}, false
	}
	return best, v.Records[best], true
}

// Decode maps row onto the layout's field names. Rows shorter than
// MinFields do not decode.
func (l RecordLayout) Decode(row []string) (map[string]string, bool) {
	if len(row) < l.MinFields {
		return nil, false
	}
	out := make(map[string]string, len(l.Fields))
	for i, name := range l.Fields {
		if i >= len(row) {
			break
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			out[name] = v
		}
	}
	return out, true
}
