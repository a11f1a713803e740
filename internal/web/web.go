// Package web holds the control page and the translation catalogs.
package web

import (
	"embed"
	"encoding/json"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
)

//go:embed index.html translations/*.json
var assets embed.FS

// MaxCatalogBytes is the largest catalog file accepted.
const MaxCatalogBytes = 10000

// Languages are the catalog languages looked up at load time.
var Languages = []string{"fr", "en"}

// IndexHTML returns the control page.
func IndexHTML() []byte {
	data, err := assets.ReadFile("index.html")
	if err != nil {
		panic(err) // embedded at build time
	}
	return data
}

// CatalogFS returns dir as a filesystem, or the embedded catalogs when dir is empty.
func CatalogFS(dir string) fs.FS {
	if dir == "" {
		sub, err := fs.Sub(assets, "translations")
		if err != nil {
			panic(err)
		}
		return sub
	}
	return os.DirFS(dir)
}

// Catalogs maps a language code to its translation object.
type Catalogs struct {
	byLang map[string]json.RawMessage
}

// LoadCatalogs reads translations_<lang>.json for every language in
// Languages. Missing, oversized or invalid files are skipped.
func LoadCatalogs(fsys fs.FS) *Catalogs {
	c := &Catalogs{byLang: make(map[string]json.RawMessage)}
	for _, lang := range Languages {
		name := "translations_" + lang + ".json"

		info, err := fs.Stat(fsys, name)
		if err != nil {
			log.Warn().Err(err).Str("lang", lang).Msg("Translation catalog missing")
			continue
		}
		if info.Size() > MaxCatalogBytes {
			log.Warn().Str("lang", lang).Int64("size", info.Size()).Msg("Translation catalog too large, skipped")
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			log.Warn().Err(err).Str("lang", lang).Msg("Translation catalog unreadable")
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			log.Warn().Err(err).Str("lang", lang).Msg("Translation catalog invalid, skipped")
			continue
		}
		c.byLang[lang] = json.RawMessage(data)
		log.Debug().Str("lang", lang).Int("keys", len(obj)).Msg("Translation catalog loaded")
	}
	return c
}

// Get returns the catalog for lang.
func (c *Catalogs) Get(lang string) (json.RawMessage, bool) {
	raw, ok := c.byLang[lang]
	return raw, ok
}

// Len returns the number of loaded catalogs.
func (c *Catalogs) Len() int {
	return len(c.byLang)
}
