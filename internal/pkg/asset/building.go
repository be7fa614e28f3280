package asset

import (
	"fmt"
	"math"
)

// BuildingParams describes an energy user. Capacity defaults to
// BuildingCapacity when zero.
type BuildingParams struct {
	ID       string  `json:"ID" yaml:"id"`
	X        float64 `json:"X" yaml:"x"`
	Y        float64 `json:"Y" yaml:"y"`
	Energy   float64 `json:"Energy" yaml:"energy"`
	Capacity float64 `json:"Capacity" yaml:"capacity"`
}

// Building is an energy consumer with local storage.
type Building struct {
	Item
	capacity float64
	stored   float64
}

// NewBuilding validates params and returns a Building.
func NewBuilding(p BuildingParams) (*Building, error) {
	capacity := p.Capacity
	if capacity == 0 {
		capacity = BuildingCapacity
	}
	item, err := NewItem(p.ID, BuildingKind, Position{p.X, p.Y}, BuildingLineResistance)
	if err != nil {
		return nil, err
	}
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		return nil, fmt.Errorf("%w: %s capacity %v", ErrInvalidParameter, p.ID, capacity)
	}
	if p.Energy < 0 || p.Energy > capacity || math.IsNaN(p.Energy) {
		return nil, fmt.Errorf("%w: %s energy %v outside [0, %v]", ErrInvalidParameter, p.ID, p.Energy, capacity)
	}
	return &Building{item, capacity, p.Energy}, nil
}

func (b *Building) Capacity() float64 {
	return b.capacity
}

func (b *Building) StoredEnergy() float64 {
	return b.stored
}

// Demand is the energy needed to fill the building up, never negative.
func (b *Building) Demand() float64 {
	return math.Max(0, b.capacity-b.stored)
}

// Charge stores up to amount and returns what was absorbed.
func (b *Building) Charge(amount float64) float64 {
	if !(amount > 0) {
		return 0
	}
	before := b.stored
	b.stored = clamp(b.stored+amount, 0, b.capacity)
	return b.stored - before
}

// Consume uses up to amount of the stored energy and returns what was used.
func (b *Building) Consume(amount float64) float64 {
	if !(amount > 0) {
		return 0
	}
	before := b.stored
	b.stored = clamp(b.stored-amount, 0, b.capacity)
	return before - b.stored
}
