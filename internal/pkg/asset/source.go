package asset

import (
	"context"
	"time"
)

// Source is the closed set of energy suppliers: *SolarPanel and *BatteryCell.
type Source interface {
	Identifier
	isSource()
}

func (*SolarPanel) isSource()  {}
func (*BatteryCell) isSource() {}

// Available returns the energy s can supply during a tick starting at date.
func Available(ctx context.Context, s Source, date time.Time, tick time.Duration) float64 {
	switch src := s.(type) {
	case *BatteryCell:
		return src.AvailableEnergy()
	case *SolarPanel:
		return src.EnergyAmount(ctx, date, tick)
	}
	return 0
}

// Draw takes amount from s and returns what was taken. Solar output that is
// not drawn is lost, so drawing from a panel never changes its state.
func Draw(s Source, amount float64) float64 {
	switch src := s.(type) {
	case *BatteryCell:
		return src.Discharge(amount)
	case *SolarPanel:
		if amount > 0 {
			return amount
		}
	}
	return 0
}

// Stores reports whether energy not drawn from s remains available later.
func Stores(s Source) bool {
	_, ok := s.(*BatteryCell)
	return ok
}
