package mappingfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

const yamlDoc = `
contentType: product
locale: en
slugField: handle
mapping:
  handle: "{Handle}"
  title: "{Title}"
  body:
    - "<h2>{Heading}</h2>"
    - "{Body}"
rules:
  productTag: Link-List
assetHints: [" Hero ", photo]
`

const tomlDoc = `
contentType = "product"
slugField = "handle"
assetHints = ["hero"]

[mapping]
handle = "{Handle}"
title = "{Title}"
body = ["<h2>{Heading}</h2>", "{Body}"]

[rules]
productTag = "link-list"
`

const jsonDoc = `{
  "contentType": "product",
  "slugField": "handle",
  "assetHints": ["hero"],
  "mapping": {
    "handle": "{Handle}",
    "title": "{Title}",
    "body": ["<h2>{Heading}</h2>", "{Body}"]
  },
  "rules": {"productTag": "link-list"}
}`

func TestParse_Formats(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		data   string
	}{
		{"yaml", FormatYAML, yamlDoc},
		{"toml", FormatTOML, tomlDoc},
		{"json", FormatJSON, "\xEF\xBB\xBF" + jsonDoc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.data), tt.format)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if f.ContentType != "product" {
				t.Errorf("ContentType = %q, want product", f.ContentType)
			}
			if f.SlugField != "handle" {
				t.Errorf("SlugField = %q, want handle", f.SlugField)
			}
			if len(f.Mapping) != 3 {
				t.Fatalf("len(Mapping) = %d, want 3", len(f.Mapping))
			}
			if f.Mapping["title"].IsComposite() || f.Mapping["title"].Value() != "{Title}" {
				t.Errorf("title = %+v, want scalar {Title}", f.Mapping["title"])
			}
			body := f.Mapping["body"]
			if !body.IsComposite() || len(body.Parts()) != 2 || body.Parts()[1] != "{Body}" {
				t.Errorf("body = %+v, want composite of 2", body)
			}
			if f.Rules["productTag"] != core.KindLinkList {
				t.Errorf("Rules[productTag] = %q, want %q", f.Rules["productTag"], core.KindLinkList)
			}
			if len(f.AssetHints) == 0 || f.AssetHints[0] != "hero" {
				t.Errorf("AssetHints = %v, want hero first", f.AssetHints)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		format Format
		data   string
	}{
		{"malformed yaml", FormatYAML, "mapping: [unclosed"},
		{"empty mapping", FormatJSON, `{"contentType": "product"}`},
		{"unknown kind", FormatYAML, "mapping:\n  slug: '{Slug}'\nrules:\n  slug: sparkly\n"},
		{"numeric template", FormatJSON, `{"mapping": {"price": 12}}`},
		{"unknown format", Format("xml"), "<mapping/>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("Parse() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    Format
		wantErr bool
	}{
		{"mapping.yaml", FormatYAML, false},
		{"dir/Mapping.YML", FormatYAML, false},
		{"mapping.toml", FormatTOML, false},
		{"mapping.json", FormatJSON, false},
		{"mapping.csv", "", true},
		{"mapping", "", true},
	}
	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("FormatFromPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "product.toml")
	if err := os.WriteFile(path, []byte(tomlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.ContentType != "product" {
		t.Errorf("ContentType = %q, want product", f.ContentType)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil, want error")
	}
}

func TestFile_FieldRules(t *testing.T) {
	f, err := Parse([]byte(yamlDoc), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	base := core.DefaultFieldRules()
	rules := f.FieldRules(base)

	if rules.SlugField != "handle" {
		t.Errorf("SlugField = %q, want handle", rules.SlugField)
	}
	if base.SlugField != core.DefaultSlugField {
		t.Errorf("base SlugField changed to %q", base.SlugField)
	}
	if k, ok := rules.Explicit("seo"); !ok || k != core.KindSEO {
		t.Errorf("seo kind = %q, %v; want inherited %q", k, ok, core.KindSEO)
	}
	if got := rules.KindFor("heroBanner", core.Scalar("{Hero}")); got != core.KindAssetLink {
		t.Errorf("KindFor(heroBanner) = %q, want %q", got, core.KindAssetLink)
	}
	if got := rules.KindFor("image", core.Scalar("{Image}")); got != core.KindPlain {
		t.Errorf("KindFor(image) = %q, want %q after hints were replaced", got, core.KindPlain)
	}

	m := f.Mapper(nil, "nl")
	if m.Locale() != "en" {
		t.Errorf("Mapper locale = %q, want en", m.Locale())
	}
	if err := m.CheckMapping(f.Mapping); err != nil {
		t.Errorf("CheckMapping() error = %v", err)
	}
}
