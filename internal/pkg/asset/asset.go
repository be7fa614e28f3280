package asset

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameter is returned by constructors given out-of-range values.
var ErrInvalidParameter = errors.New("asset: invalid parameter")

// Kind is the class of a grid item and the prefix of its id.
type Kind string

const (
	SolarPanelKind   Kind = "solar_panel"
	SmallBatteryKind Kind = "small_battery"
	LargeBatteryKind Kind = "large_battery"
	BuildingKind     Kind = "energy_user"
	GridKind         Kind = "grid"
)

// ID returns the item id for the seq'th item of kind k.
func (k Kind) ID(seq int) string {
	return fmt.Sprintf("%s-%d", k, seq)
}

// Position is a location inside the town, in town units.
type Position struct {
	X float64 `json:"X" yaml:"x"`
	Y float64 `json:"Y" yaml:"y"`
}

// Distance is the euclidean distance between p and q.
func (p Position) Distance(q Position) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Within reports whether p lies in the width x height town rectangle.
func (p Position) Within(width, height float64) bool {
	return p.X >= 0 && p.Y >= 0 && p.X <= width && p.Y <= height
}

func (p Position) valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) &&
		p.X >= 0 && p.Y >= 0
}

// Identifier is implemented by every addressable grid item.
type Identifier interface {
	ID() string
	Kind() Kind
	Position() Position
	Resistance() float64
}

// Item is the immutable identity record shared by sources and consumers.
type Item struct {
	id         string
	kind       Kind
	position   Position
	resistance float64
}

// NewItem validates and returns an Item. Resistance is the line resistance
// of the item's own connection, in ohms.
func NewItem(id string, kind Kind, position Position, resistance float64) (Item, error) {
	if id == "" {
		return Item{}, fmt.Errorf("%w: empty id", ErrInvalidParameter)
	}
	if !position.valid() {
		return Item{}, fmt.Errorf("%w: %s position %+v", ErrInvalidParameter, id, position)
	}
	if resistance < 0 || math.IsNaN(resistance) {
		return Item{}, fmt.Errorf("%w: %s resistance %v", ErrInvalidParameter, id, resistance)
	}
	return Item{id, kind, position, resistance}, nil
}

func (i Item) ID() string          { return i.id }
func (i Item) Kind() Kind          { return i.kind }
func (i Item) Position() Position  { return i.position }
func (i Item) Resistance() float64 { return i.resistance }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
