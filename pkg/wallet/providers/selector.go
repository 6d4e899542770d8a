package providers

// Overrides are the modal options a caller set explicitly. A nil
// DisableInjectedProvider means the caller did not set it.
type Overrides struct {
	DisableInjectedProvider *bool
	ProviderOptions         Options
}

// Resolved is the outcome of Resolve.
type Resolved struct {
	DisableInjectedProvider bool
	ProviderOptions         Options
}

// Resolve resolves against the Default catalog.
func Resolve(modal Overrides, enabled Enablement, credential string) Resolved {
	return Default.Resolve(modal, enabled, credential)
}

// Resolve computes the injected-provider flag and the provider options.
//
// The flag comes from the explicit override, then from the inverted
// "injected" switch, then defaults to false. Provider options hold a recipe
// for every buildable enabled entry when the credential is present. Explicit
// caller options then replace derived ones key by key.
func (c Catalog) Resolve(modal Overrides, enabled Enablement, credential string) Resolved {
	return Resolved{
		DisableInjectedProvider: disableInjected(modal, enabled),
		ProviderOptions:         c.providerOptions(modal.ProviderOptions, enabled, credential),
	}
}

func disableInjected(modal Overrides, enabled Enablement) bool {
	if modal.DisableInjectedProvider != nil {
		return *modal.DisableInjectedProvider
	}
	if v, ok := enabled[Injected]; ok {
		return !v
	}
	return false
}

func (c Catalog) providerOptions(explicit Options, enabled Enablement, credential string) Options {
	out := Options{}
	if credential != "" {
		for _, e := range c {
			if e.Build == nil {
				continue
			}
			if !c.IsEnabled(e.ID, enabled) {
				continue
			}
			out[e.ID] = e.Build(credential)
		}
	}
	for id, recipe := range explicit {
		out[id] = recipe
	}
	return out
}
