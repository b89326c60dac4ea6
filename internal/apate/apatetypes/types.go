// Package apatetypes holds the wire-level shape of an Apate specification
// document: Deceit rules, matchers, processors and their tagged-union
// encodings.
package apatetypes

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OutputType selects how a DeceitResponse's output string is turned into
// response bytes.
type OutputType string

const (
	OutputString   OutputType = "string"
	OutputTemplate OutputType = "template"
	OutputHex      OutputType = "hex"
	OutputBase64   OutputType = "base64"
	OutputScript   OutputType = "script"
)

// HeaderPair is a single response header, serialized on the wire as a
// two-element JSON array ["Key", "Value"] rather than an object, so that
// the same header key may appear more than once and insertion order is
// preserved.
type HeaderPair struct {
	Key   string
	Value string
}

func (h HeaderPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{h.Key, h.Value})
}

func (h *HeaderPair) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("header pair: %w", err)
	}
	h.Key, h.Value = pair[0], pair[1]
	return nil
}

// MatcherType discriminates the Matcher tagged union.
type MatcherType string

const (
	MatcherAnd     MatcherType = "and"
	MatcherOr      MatcherType = "or"
	MatcherMethod  MatcherType = "method"
	MatcherHeader  MatcherType = "header"
	MatcherQuery   MatcherType = "query_arg"
	MatcherPath    MatcherType = "path_arg"
	MatcherJSON    MatcherType = "json"
	MatcherRhai    MatcherType = "rhai"
	MatcherRhaiRef MatcherType = "rhai_ref"
)

// Matcher is a recursive predicate tree. It is flattened (all variant
// fields present, most left as zero values for a given Type) rather than
// modeled as a Go interface, so JSON/YAML (de)serialization needs no custom
// hook at this layer; the matcher package interprets the Type discriminant.
type Matcher struct {
	Type MatcherType `json:"type" yaml:"type"`

	// And / Or
	Matchers []Matcher `json:"matchers,omitempty" yaml:"matchers,omitempty"`

	// Method / Json
	Eq string `json:"eq,omitempty" yaml:"eq,omitempty"`

	// Header / QueryArg / PathArg
	Key   string `json:"key,omitempty" yaml:"key,omitempty"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Json
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Rhai
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// RhaiRef
	ID   string   `json:"id,omitempty" yaml:"id,omitempty"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	Negate bool `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// ProcessorType discriminates the Processor tagged union.
type ProcessorType string

const (
	ProcessorEmbedded  ProcessorType = "embedded"
	ProcessorScript    ProcessorType = "script"
	ProcessorScriptRef ProcessorType = "script_ref"
)

// Processor is a single body transformer run after rendering.
type Processor struct {
	Type ProcessorType `json:"type" yaml:"type"`

	// Embedded / ScriptRef
	ID   string   `json:"id,omitempty" yaml:"id,omitempty"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Script
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// DeceitResponse is one candidate response within a Deceit.
type DeceitResponse struct {
	Code       *uint16      `json:"code,omitempty" yaml:"code,omitempty"`
	Matchers   []Matcher    `json:"matchers,omitempty" yaml:"matchers,omitempty"`
	Headers    []HeaderPair `json:"headers,omitempty" yaml:"headers,omitempty"`
	Processors []Processor  `json:"processors,omitempty" yaml:"processors,omitempty"`
	Type       OutputType   `json:"type,omitempty" yaml:"type,omitempty"`
	Output     string       `json:"output" yaml:"output"`
}

// Deceit is an ordered rule unit binding URI patterns to a matcher tree and
// one or more candidate responses.
type Deceit struct {
	URIs       []string         `json:"uris" yaml:"uris"`
	Headers    []HeaderPair     `json:"headers,omitempty" yaml:"headers,omitempty"`
	Matchers   []Matcher        `json:"matchers,omitempty" yaml:"matchers,omitempty"`
	Processors []Processor      `json:"processors,omitempty" yaml:"processors,omitempty"`
	Responses  []DeceitResponse `json:"responses" yaml:"responses"`

	// JSONRequest, when true, makes the engine eagerly parse the request
	// body as JSON before matcher evaluation, so a malformed body fails
	// the request up front instead of surfacing lazily the first time a
	// Json matcher touches it.
	JSONRequest bool `json:"json_request,omitempty" yaml:"json_request,omitempty"`
}

// Validate enforces the Deceit-level invariant: at least one URI pattern.
func (d Deceit) Validate() error {
	if len(d.URIs) == 0 {
		return fmt.Errorf("deceit has no uri patterns")
	}
	return nil
}

// ScriptDef is a named top-level script, referenceable by RhaiRef/ScriptRef.
type ScriptDef struct {
	ID     string `json:"id" yaml:"id"`
	Source string `json:"source" yaml:"source"`
}

// ApateSpecs is the full configuration document: the ordered Deceit list
// plus the named script table.
type ApateSpecs struct {
	Scripts []ScriptDef `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Deceit  []Deceit    `json:"deceit,omitempty" yaml:"deceit,omitempty"`
}

// Validate checks document-wide invariants: unique script ids, and that
// every Deceit carries at least one URI.
func (s ApateSpecs) Validate() error {
	seen := make(map[string]struct{}, len(s.Scripts))
	for _, sc := range s.Scripts {
		if _, ok := seen[sc.ID]; ok {
			return fmt.Errorf("duplicate script id %q", sc.ID)
		}
		seen[sc.ID] = struct{}{}
	}
	for i, d := range s.Deceit {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("deceit[%d]: %w", i, err)
		}
	}
	return nil
}

// Merge returns a new ApateSpecs with other's entries appended after s's.
func (s ApateSpecs) Merge(other ApateSpecs) ApateSpecs {
	out := ApateSpecs{
		Scripts: make([]ScriptDef, 0, len(s.Scripts)+len(other.Scripts)),
		Deceit:  make([]Deceit, 0, len(s.Deceit)+len(other.Deceit)),
	}
	out.Scripts = append(out.Scripts, s.Scripts...)
	out.Scripts = append(out.Scripts, other.Scripts...)
	out.Deceit = append(out.Deceit, s.Deceit...)
	out.Deceit = append(out.Deceit, other.Deceit...)
	return out
}

// PrependTo returns a new ApateSpecs with s's entries placed before
// other's — i.e. s is prepended in front of other.
func (s ApateSpecs) PrependTo(other ApateSpecs) ApateSpecs {
	return s.Merge(other)
}

// EncodeJSONCompact renders specs as compact JSON, used for the admin read
// endpoint's default document format.
func EncodeJSONCompact(specs ApateSpecs) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(specs); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
