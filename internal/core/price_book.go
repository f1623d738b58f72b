package core

import (
	"fmt"
	"math/big"
)

// PricePoint is the latest oracle observation for one asset.
type PricePoint struct {
	Price     *big.Int `json:"price"` // Wad, base currency
	Sequence  int64    `json:"sequence"`
	Timestamp int64    `json:"timestamp"`
}

// PriceBook holds the event-sourced oracle prices the core values positions
// with. It satisfies the risk layer's price source interface, so health
// factors always read the price of the update most recently applied to the
// log, never an out-of-band feed.
type PriceBook struct {
	points map[string]PricePoint
}

func NewPriceBook() *PriceBook {
	return &PriceBook{points: make(map[string]PricePoint)}
}

// Set records the latest price for an asset.
func (pb *PriceBook) Set(asset string, price *big.Int, sequence, timestamp int64) {
	pb.points[asset] = PricePoint{
		Price:     new(big.Int).Set(price),
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// AssetPrice returns the latest price in the base currency.
func (pb *PriceBook) AssetPrice(asset string) (*big.Int, error) {
	p, ok := pb.points[asset]
	if !ok {
		return nil, fmt.Errorf("no oracle price for asset %s", asset)
	}
	return new(big.Int).Set(p.Price), nil
}

// Point returns the full observation for an asset.
func (pb *PriceBook) Point(asset string) (PricePoint, bool) {
	p, ok := pb.points[asset]
	return p, ok
}

// Snapshot returns a copy of all observations.
func (pb *PriceBook) Snapshot() map[string]PricePoint {
	out := make(map[string]PricePoint, len(pb.points))
	for asset, p := range pb.points {
		out[asset] = PricePoint{
			Price:     new(big.Int).Set(p.Price),
			Sequence:  p.Sequence,
			Timestamp: p.Timestamp,
		}
	}
	return out
}

// Restore replaces the book's contents from a snapshot.
func (pb *PriceBook) Restore(points map[string]PricePoint) {
	pb.points = make(map[string]PricePoint, len(points))
	for asset, p := range points {
		pb.points[asset] = PricePoint{
			Price:     new(big.Int).Set(p.Price),
			Sequence:  p.Sequence,
			Timestamp: p.Timestamp,
		}
	}
}
