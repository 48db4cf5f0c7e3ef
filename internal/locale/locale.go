// Package locale holds the bot's localization table: a language × key mapping
// to message templates loaded from embedded TOML files.
package locale

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

// DefaultLanguage is used when a user's language is unknown or unsupported.
const DefaultLanguage = "en"

// Outbound notification keys.
const (
	KeyWon                  = "won"
	KeyBalanceLow           = "balance_low"
	KeyResaleSuccess        = "resale_success"
	KeyTopUpSuccess         = "topup_success"
	KeyParticipationSuccess = "participation_success"
	KeyRegisterSuccess      = "register_success"
)

// Args carries named placeholder values for a template.
type Args map[string]any

//go:embed translations/*.toml
var translationFS embed.FS

// missingValue is what text/template renders for an absent map key.
const missingValue = "<no value>"

// Catalog resolves localized messages.
type Catalog struct {
	bundle     *i18n.Bundle
	localizers map[string]*i18n.Localizer
	templates  map[string]map[string]string
	supported  []string
}

// New loads the embedded translations into a catalog.
func New() (*Catalog, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	entries, err := translationFS.ReadDir("translations")
	if err != nil {
		return nil, fmt.Errorf("read translations: %w", err)
	}

	catalog := &Catalog{
		bundle:     bundle,
		localizers: make(map[string]*i18n.Localizer, len(entries)),
		templates:  make(map[string]map[string]string, len(entries)),
	}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".toml" {
			continue
		}
		name := path.Join("translations", entry.Name())
		data, err := translationFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read translation %s: %w", entry.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			return nil, fmt.Errorf("load translation %s: %w", entry.Name(), err)
		}

		lang := strings.TrimSuffix(entry.Name(), ".toml")
		templates := map[string]string{}
		if err := toml.Unmarshal(data, &templates); err != nil {
			return nil, fmt.Errorf("decode translation %s: %w", entry.Name(), err)
		}
		catalog.templates[lang] = templates
		catalog.localizers[lang] = i18n.NewLocalizer(bundle, lang, DefaultLanguage)
		catalog.supported = append(catalog.supported, lang)
	}

	if _, ok := catalog.localizers[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("missing %s translation", DefaultLanguage)
	}

	return catalog, nil
}

// Supported lists the languages with a translation file.
func (c *Catalog) Supported() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.supported))
	copy(out, c.supported)
	return out
}

// Normalize reduces a client locale such as "zh-hans" or "en_US" to a
// supported base language, falling back to DefaultLanguage.
func (c *Catalog) Normalize(code string) string {
	code = strings.ReplaceAll(strings.TrimSpace(code), "_", "-")
	if code == "" || c == nil {
		return DefaultLanguage
	}

	tag, err := language.Parse(code)
	if err != nil {
		return DefaultLanguage
	}
	base, _ := tag.Base()

	if _, ok := c.localizers[base.String()]; ok {
		return base.String()
	}
	return DefaultLanguage
}

// Message renders key in lang. Keys missing in lang fall back to the default
// language; keys missing everywhere render as the key itself. When args lack a
// placeholder the template is returned unrendered.
func (c *Catalog) Message(lang, key string, args Args) string {
	if c == nil {
		return key
	}

	lang = c.Normalize(lang)
	text := c.render(lang, key, args)
	if strings.Contains(text, missingValue) {
		if raw, ok := c.template(lang, key); ok && !strings.Contains(raw, missingValue) {
			return raw
		}
	}

	return text
}

func (c *Catalog) template(lang, key string) (string, bool) {
	for _, candidate := range []string{lang, DefaultLanguage} {
		if raw, ok := c.templates[candidate][key]; ok {
			return raw, true
		}
	}
	return "", false
}

func (c *Catalog) render(lang, key string, args Args) string {
	localizer, ok := c.localizers[lang]
	if !ok {
		localizer = c.localizers[DefaultLanguage]
	}

	text, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: map[string]any(args),
	})
	if err != nil {
		var notFound *i18n.MessageNotFoundErr
		if errors.As(err, &notFound) && text != "" {
			return text
		}
		return key
	}

	return text
}
