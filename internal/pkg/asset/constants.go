package asset

// Energies are in joules.
const (
	SmallBatteryCapacity = 13500.0
	LargeBatteryCapacity = 540000.0

	BuildingCapacity      = 4545.0
	BuildingInitialEnergy = 4545.0

	SolarPanelArea = 10.0
	// solar panels are usually between 15% and 20% efficient
	SolarPanelEfficiency = 0.175
)

// Solar model constants, derived from the NASA cloud cover / solar radiation
// lesson: clear sky irradiance in W/m^2 and the cubic cloud scaling factor.
const (
	ClearSkyIrradiance           = 990.0
	CloudCoverageScalingConstant = 0.75
)

// Resistances. Wires in ohm/km, item line resistance in ohm.
// Transmission uses awg 16 wire, buildings mostly awg 13.
const (
	ResistanceAWG16    = 13.17
	ResistanceBuilding = 0.726
	ResistanceGrid     = 0.2
)

// Internal wiring lengths in km. An average house needs 7.25 rolls of 50ft
// wire.
const (
	BuildingWireKm = 7.25 * 50 * 0.0003048
	SolarLeadKm    = 0.01
)

// Line resistances of the item connections, in ohm.
const (
	BuildingLineResistance = ResistanceBuilding * BuildingWireKm
	SolarLineResistance    = ResistanceAWG16 * SolarLeadKm
	BatteryLineResistance  = 0.0
)
