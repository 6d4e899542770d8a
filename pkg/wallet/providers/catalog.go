// Package providers holds the catalog of wallet backends and resolves the
// provider options handed to the wallet chooser.
package providers

const (
	Injected      = "injected"
	WalletConnect = "walletconnect"
	WalletLink    = "walletlink"
)

const (
	walletConnectPackage = "@walletconnect/web3-provider"
	walletLinkPackage    = "walletlink"
	infuraHTTPURL        = "https://mainnet.infura.io/v3/"
	walletLinkAppName    = "Moff"
)

// Recipe describes how the chooser constructs one backend: which package
// builds it and the options it is built with.
type Recipe struct {
	Package string                 `yaml:"package" json:"package"`
	Options map[string]interface{} `yaml:"options" json:"options"`
}

// Options maps a provider id to its construction recipe.
type Options map[string]Recipe

// Enablement maps a provider id to an explicit on/off switch. An absent id
// falls back to the catalog default.
type Enablement map[string]bool

// Entry is one catalog row.
type Entry struct {
	ID      string
	Enabled bool
	// Build returns the recipe for the given credential. Nil for backends that
	// need no recipe, such as the injected provider.
	Build func(credential string) Recipe
}

// Catalog is an ordered list of known backends.
type Catalog []Entry

// Default is the catalog used by Resolve.
var Default = Catalog{
	{ID: Injected, Enabled: true},
	{ID: WalletConnect, Enabled: true, Build: walletConnectRecipe},
	{ID: WalletLink, Enabled: true, Build: walletLinkRecipe},
}

func walletConnectRecipe(credential string) Recipe {
	return Recipe{
		Package: walletConnectPackage,
		Options: map[string]interface{}{
			"infuraId": credential,
		},
	}
}

func walletLinkRecipe(credential string) Recipe {
	return Recipe{
		Package: walletLinkPackage,
		Options: map[string]interface{}{
			"appName":   walletLinkAppName,
			"infuraUrl": infuraHTTPURL + credential,
			"chainId":   1,
		},
	}
}

// Lookup returns the entry registered under id.
func (c Catalog) Lookup(id string) (Entry, bool) {
	for _, e := range c {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// IsEnabled applies the explicit switch for id when present, the catalog
// default otherwise. Unknown ids without a switch are enabled.
func (c Catalog) IsEnabled(id string, enabled Enablement) bool {
	if v, ok := enabled[id]; ok {
		return v
	}
	if e, ok := c.Lookup(id); ok {
		return e.Enabled
	}
	return true
}
