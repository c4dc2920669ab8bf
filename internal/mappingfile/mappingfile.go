// Package mappingfile loads field mappings, and optional field rules, from
// YAML, TOML or JSON files.
//
// A mapping file looks like:
//
//	contentType: product
//	locale: nl
//	slugField: slug
//	mapping:
//	  slug: "{Slug}"
//	  title: "{Title}"
//	  body: ["<h2>{Heading}</h2>", "{Body}"]
//	rules:
//	  productTag: link-list
//	assetHints: [image, banner]
package mappingfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// Format is a mapping file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// File is a decoded mapping file.
type File struct {
	ContentType string
	Locale      string
	SlugField   string
	Mapping     core.FieldMapping
	Rules       map[string]core.FieldKind
	AssetHints  []string
}

// document is the on-disk shape shared by all formats.
type document struct {
	ContentType string            `json:"contentType" yaml:"contentType" toml:"contentType"`
	Locale      string            `json:"locale" yaml:"locale" toml:"locale"`
	SlugField   string            `json:"slugField" yaml:"slugField" toml:"slugField"`
	Mapping     map[string]any    `json:"mapping" yaml:"mapping" toml:"mapping"`
	Rules       map[string]string `json:"rules" yaml:"rules" toml:"rules"`
	AssetHints  []string          `json:"assetHints" yaml:"assetHints" toml:"assetHints"`
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unsupported mapping file extension %q (use .yaml, .toml or .json)",
			core.ErrValidation, filepath.Ext(path))
	}
}

// Load reads and parses a mapping file.
func Load(path string) (*File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (*File, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var doc document
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("%w: unknown mapping format %q", core.ErrValidation, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s mapping: %v", core.ErrValidation, format, err)
	}

	if len(doc.Mapping) == 0 {
		return nil, fmt.Errorf("%w: mapping is empty", core.ErrValidation)
	}
	mapping, err := core.ParseMapping(doc.Mapping)
	if err != nil {
		return nil, err
	}

	rules := make(map[string]core.FieldKind, len(doc.Rules))
	for field, raw := range doc.Rules {
		kind, err := core.ParseFieldKind(raw)
		if err != nil {
			return nil, fmt.Errorf("rule for %q: %w", field, err)
		}
		rules[field] = kind
	}

	return &File{
		ContentType: strings.TrimSpace(doc.ContentType),
		Locale:      strings.TrimSpace(doc.Locale),
		SlugField:   strings.TrimSpace(doc.SlugField),
		Mapping:     mapping,
		Rules:       rules,
		AssetHints:  normalizeHints(doc.AssetHints),
	}, nil
}

func normalizeHints(hints []string) []string {
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// FieldRules returns base extended with the file's slug field, asset hints
// and explicit kinds. base is not modified.
func (f *File) FieldRules(base *core.FieldRules) *core.FieldRules {
	if base == nil {
		base = core.DefaultFieldRules()
	}
	rules := base.Clone()
	if f.SlugField != "" {
		rules.SlugField = f.SlugField
	}
	if len(f.AssetHints) > 0 {
		rules.AssetHints = append([]string(nil), f.AssetHints...)
	}
	for field, kind := range f.Rules {
		rules.Set(field, kind)
	}
	return rules
}

// Mapper returns a mapper for the file's rules and locale.
func (f *File) Mapper(base *core.FieldRules, defaultLocale string) *core.Mapper {
	locale := f.Locale
	if locale == "" {
		locale = defaultLocale
	}
	return core.NewMapper(f.FieldRules(base), locale)
}
