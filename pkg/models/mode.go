package models

import "strings"

// Mode is the asset class of a session, fixed when the stream opens.
type Mode string

const (
	ModeStock  Mode = "stock"
	ModeCrypto Mode = "crypto"
)

// cryptoSymbol is always treated as crypto regardless of the request flag.
const cryptoSymbol = "BTC"

// NormalizeSymbol upper-cases and trims a requested ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ModeFor derives the session mode from the normalized symbol and the
// client's asset-class flag.
func ModeFor(symbol string, cryptoFlag bool) Mode {
	if cryptoFlag || symbol == cryptoSymbol {
		return ModeCrypto
	}
	return ModeStock
}

// Source is where a session's prices come from. It is decided once per
// process by whether an upstream credential is configured.
type Source string

const (
	SourceSynthetic Source = "synthetic"
	SourceBridge    Source = "bridge"
)
