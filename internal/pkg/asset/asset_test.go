package asset

import (
	"math"
	"testing"

	"gotest.tools/v3/assert"
)

func TestKindID(t *testing.T) {
	assert.Equal(t, LargeBatteryKind.ID(0), "large_battery-0")
	assert.Equal(t, SolarPanelKind.ID(12), "solar_panel-12")
	assert.Equal(t, BuildingKind.ID(3), "energy_user-3")
}

func TestPositionDistance(t *testing.T) {
	p := Position{3, 4}
	assert.Equal(t, p.Distance(Position{0, 0}), 5.0)
	assert.Equal(t, p.Distance(p), 0.0)
}

func TestPositionWithin(t *testing.T) {
	assert.Assert(t, Position{10, 10}.Within(10, 10))
	assert.Assert(t, Position{0, 0}.Within(10, 10))
	assert.Assert(t, !Position{10.5, 3}.Within(10, 10))
	assert.Assert(t, !Position{-1, 3}.Within(10, 10))
}

func TestNewItemValidation(t *testing.T) {
	_, err := NewItem("", BuildingKind, Position{}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewItem("x", BuildingKind, Position{math.NaN(), 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewItem("x", BuildingKind, Position{-1, 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewItem("x", BuildingKind, Position{1, 1}, -0.1)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	item, err := NewItem("x", BuildingKind, Position{1, 2}, 0.5)
	assert.NilError(t, err)
	assert.Equal(t, item.ID(), "x")
	assert.Equal(t, item.Kind(), BuildingKind)
	assert.Equal(t, item.Position(), Position{1, 2})
	assert.Equal(t, item.Resistance(), 0.5)
}
