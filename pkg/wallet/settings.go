package wallet

import (
	"bytes"
	"encoding/json"

	"moff.io/moff-wallet/pkg/wallet/providers"
)

const (
	DefaultNetwork = "mainnet"
	DefaultTheme   = "light"
)

// Theme is either a named theme or a color map.
type Theme struct {
	Name   string            `yaml:"name" json:"name,omitempty"`
	Colors map[string]string `yaml:"colors" json:"colors,omitempty"`
}

func (t Theme) IsZero() bool {
	return t.Name == "" && len(t.Colors) == 0
}

// themeFields is Theme without its decoders.
type themeFields Theme

// UnmarshalYAML accepts a theme name, a {name, colors} map or a bare color
// map.
func (t *Theme) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		*t = Theme{Name: name}
		return nil
	}
	var keys map[string]interface{}
	if err := unmarshal(&keys); err != nil {
		return err
	}
	if hasThemeFields(keys) {
		var f themeFields
		if err := unmarshal(&f); err != nil {
			return err
		}
		*t = Theme(f)
		return nil
	}
	var colors map[string]string
	if err := unmarshal(&colors); err != nil {
		return err
	}
	*t = Theme{Colors: colors}
	return nil
}

// UnmarshalJSON accepts the same forms as UnmarshalYAML.
func (t *Theme) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = Theme{Name: name}
		return nil
	}
	var keys map[string]interface{}
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	if hasThemeFields(keys) {
		var f themeFields
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*t = Theme(f)
		return nil
	}
	var colors map[string]string
	if err := json.Unmarshal(data, &colors); err != nil {
		return err
	}
	*t = Theme{Colors: colors}
	return nil
}

func hasThemeFields(keys map[string]interface{}) bool {
	_, name := keys["name"]
	_, colors := keys["colors"]
	return name || colors
}

// ModalOptions are the chooser options a caller sets explicitly. Nil pointers
// and zero values mean "not set".
type ModalOptions struct {
	CacheProvider           *bool             `yaml:"cache_provider"`
	DisableInjectedProvider *bool             `yaml:"disable_injected_provider"`
	ProviderOptions         providers.Options `yaml:"provider_options"`
	Network                 string            `yaml:"network"`
	Theme                   *Theme            `yaml:"theme"`
}

// Options configure a Session. Modal values take precedence over the top
// level shorthands.
type Options struct {
	Network   string
	Theme     *Theme
	Providers providers.Enablement
	Modal     ModalOptions

	// Credential is the RPC gateway API key that gates the default
	// WalletConnect and WalletLink recipes.
	Credential string

	// Store is the persistent store the chooser caches into, nil when none is
	// available.
	Store Store

	NewChooser     ChooserFactory
	NewChainClient ChainClientFactory
}

type ModalSettings struct {
	CacheProvider           bool
	DisableInjectedProvider bool
	ProviderOptions         providers.Options
	Network                 string
	Theme                   Theme
}

// Settings are resolved once by NewSettings and never change afterwards.
type Settings struct {
	Modal ModalSettings
}

func NewSettings(opts Options) Settings {
	resolved := providers.Resolve(providers.Overrides{
		DisableInjectedProvider: opts.Modal.DisableInjectedProvider,
		ProviderOptions:         opts.Modal.ProviderOptions,
	}, opts.Providers, opts.Credential)

	modal := ModalSettings{
		CacheProvider:           true,
		DisableInjectedProvider: resolved.DisableInjectedProvider,
		ProviderOptions:         resolved.ProviderOptions,
		Network:                 firstNonEmpty(opts.Modal.Network, opts.Network, DefaultNetwork),
		Theme:                   Theme{Name: DefaultTheme},
	}
	if opts.Modal.CacheProvider != nil {
		modal.CacheProvider = *opts.Modal.CacheProvider
	}
	switch {
	case opts.Modal.Theme != nil && !opts.Modal.Theme.IsZero():
		modal.Theme = copyTheme(*opts.Modal.Theme)
	case opts.Theme != nil && !opts.Theme.IsZero():
		modal.Theme = copyTheme(*opts.Theme)
	}
	return Settings{Modal: modal}
}

// Copy returns settings that share no maps with s.
func (s Settings) Copy() Settings {
	out := s
	out.Modal.ProviderOptions = make(providers.Options, len(s.Modal.ProviderOptions))
	for id, recipe := range s.Modal.ProviderOptions {
		out.Modal.ProviderOptions[id] = recipe
	}
	out.Modal.Theme = copyTheme(s.Modal.Theme)
	return out
}

func copyTheme(t Theme) Theme {
	if t.Colors == nil {
		return t
	}
	colors := make(map[string]string, len(t.Colors))
	for k, v := range t.Colors {
		colors[k] = v
	}
	t.Colors = colors
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
