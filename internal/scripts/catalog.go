// Package scripts loads the sales scripts calls are scored against.
package scripts

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnnamedScript   = errors.New("script without name")
	ErrDuplicateScript = errors.New("duplicate script name")
)

// Script is a named, ordered list of phrases a manager is expected to say.
type Script struct {
	Name    string   `yaml:"name" json:"name"`
	Phrases []string `yaml:"phrases" json:"phrases"`
}

// Catalog is an immutable, ordered set of scripts. Declaration order is
// significant: it breaks ties when scoring.
type Catalog struct {
	scripts []Script
}

type catalogFile struct {
	Scripts []Script `yaml:"scripts"`
}

// New validates and copies the given scripts. Phrases are trimmed, and
// blank or repeated phrases are dropped.
func New(list ...Script) (*Catalog, error) {
	seen := make(map[string]bool, len(list))
	out := make([]Script, 0, len(list))
	for i, s := range list {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("script #%d: %w", i+1, ErrUnnamedScript)
		}
		if seen[name] {
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicateScript)
		}
		seen[name] = true
		out = append(out, Script{Name: name, Phrases: cleanPhrases(s.Phrases)})
	}
	return &Catalog{scripts: out}, nil
}

// Load reads a YAML catalog of the form:
//
//	scripts:
//	  - name: inbound
//	    phrases: ["добрый день", "меня зовут"]
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scripts: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse scripts %s: %w", path, err)
	}
	return New(f.Scripts...)
}

// FromPhraseList builds a single-script catalog from a comma or newline
// separated list.
func FromPhraseList(name, list string) (*Catalog, error) {
	phrases := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	return New(Script{Name: name, Phrases: phrases})
}

// Scripts returns a deep copy in declaration order.
func (c *Catalog) Scripts() []Script {
	if c == nil {
		return nil
	}
	out := make([]Script, len(c.scripts))
	for i, s := range c.scripts {
		out[i] = Script{Name: s.Name, Phrases: append([]string(nil), s.Phrases...)}
	}
	return out
}

// Lookup finds a script by name.
func (c *Catalog) Lookup(name string) (Script, bool) {
	if c == nil {
		return Script{}, false
	}
	for _, s := range c.scripts {
		if s.Name == name {
			return Script{Name: s.Name, Phrases: append([]string(nil), s.Phrases...)}, true
		}
	}
	return Script{}, false
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.scripts)
}

func cleanPhrases(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
