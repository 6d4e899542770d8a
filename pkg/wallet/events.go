package wallet

const (
	statusPrefix  = "status"
	accountPrefix = "account"
	chainPrefix   = "chain"
)

// Canonical session events delivered to subscribers.
const (
	EventConnected      = statusPrefix + ":connected"
	EventDisconnected   = statusPrefix + ":disconnected"
	EventAccountChanged = accountPrefix + ":changed"
	EventChainChanged   = chainPrefix + ":changed"
)

// Event names emitted by raw providers.
const (
	RawConnect         = "connect"
	RawDisconnect      = "disconnect"
	RawAccountsChanged = "accountsChanged"
	RawChainChanged    = "chainChanged"
)

type ConnectedData struct {
	ChainID string `json:"chainId"`
}

type DisconnectedData struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// AccountChangedData carries the primary address after the change, empty when
// the wallet exposes no account.
type AccountChangedData struct {
	Address string `json:"address"`
}

type ChainChangedData struct {
	ChainID string `json:"chainId"`
}
