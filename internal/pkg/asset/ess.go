package asset

import (
	"fmt"
	"math"
)

// BatteryCell is a storage source. Stored energy stays in [0, capacity].
type BatteryCell struct {
	Item
	capacity float64
	stored   float64
}

// NewBatteryCell returns a battery with the given capacity and initial energy.
func NewBatteryCell(item Item, capacity, stored float64) (*BatteryCell, error) {
	if !(capacity > 0) || math.IsInf(capacity, 0) {
		return nil, fmt.Errorf("%w: %s capacity %v", ErrInvalidParameter, item.ID(), capacity)
	}
	if stored < 0 || stored > capacity || math.IsNaN(stored) {
		return nil, fmt.Errorf("%w: %s stored energy %v outside [0, %v]", ErrInvalidParameter, item.ID(), stored, capacity)
	}
	return &BatteryCell{item, capacity, stored}, nil
}

// NewSmallBattery returns a full small battery cell.
func NewSmallBattery(seq int, position Position) (*BatteryCell, error) {
	item, err := NewItem(SmallBatteryKind.ID(seq), SmallBatteryKind, position, BatteryLineResistance)
	if err != nil {
		return nil, err
	}
	return NewBatteryCell(item, SmallBatteryCapacity, SmallBatteryCapacity)
}

// NewLargeBattery returns a full large battery cell.
func NewLargeBattery(seq int, position Position) (*BatteryCell, error) {
	item, err := NewItem(LargeBatteryKind.ID(seq), LargeBatteryKind, position, BatteryLineResistance)
	if err != nil {
		return nil, err
	}
	return NewBatteryCell(item, LargeBatteryCapacity, LargeBatteryCapacity)
}

// AvailableEnergy is the energy the cell can give right now.
func (b *BatteryCell) AvailableEnergy() float64 {
	return b.stored
}

func (b *BatteryCell) Capacity() float64 {
	return b.capacity
}

// Headroom is the energy the cell can still absorb.
func (b *BatteryCell) Headroom() float64 {
	return b.capacity - b.stored
}

// Discharge removes up to amount and returns what was removed.
func (b *BatteryCell) Discharge(amount float64) float64 {
	if !(amount > 0) {
		return 0
	}
	before := b.stored
	b.stored = clamp(b.stored-amount, 0, b.capacity)
	return before - b.stored
}

// Charge adds up to amount and returns what was absorbed.
func (b *BatteryCell) Charge(amount float64) float64 {
	if !(amount > 0) {
		return 0
	}
	before := b.stored
	b.stored = clamp(b.stored+amount, 0, b.capacity)
	return b.stored - before
}
