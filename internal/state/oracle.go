package state

import "math/big"

// PriceOracle supplies asset prices in a fixed reference unit at Wad scale
// (price of one whole token). It must be queried fresh for every health
// factor computation; the engine never caches prices across calls.
type PriceOracle interface {
	AssetPrice(asset string) (*big.Int, error)
}
