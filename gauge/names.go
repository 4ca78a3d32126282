package gauge

import "fmt"

// unitSymbols maps measurement range units to their display symbols.
var unitSymbols = map[string]string{
	"inch": `"`,
	"mm":   "mm",
	"deg":  "°",
	"psi":  " PSI",
	"bar":  " bar",
	"cm":   "cm",
	"ft":   "ft",
}

// UnitSymbol returns the display symbol for a range unit. Unknown units
// render as a space-separated suffix.
func UnitSymbol(unit string) string {
	if sym, ok := unitSymbols[unit]; ok {
		return sym
	}
	return " " + unit
}

// DisplayName computes the deterministic display name for a gauge from its
// specification. The name is computed on read and never stored.
//
// Policies per equipment type:
//   - Thread gauge:        "{size} {form} {class} Thread GO Gauge" (or NO GO)
//   - Spare thread gauge:  "S/N {serial}"
//   - Hand tool:           "{min}-{max}{unit} {format}"
//   - Large equipment:     "{type} ({capacity})" or "{type}"
//   - Calibration standard: "{type} {nominal} {uncertainty}"
func DisplayName(g *Gauge) string {
	switch g.EquipmentType {
	case EquipmentThreadGauge:
		if g.IsSpare() {
			return fmt.Sprintf("S/N %s", g.SerialNumber)
		}
		return threadName(g)
	case EquipmentHandTool:
		return handToolName(g)
	case EquipmentLargeEquipment:
		return largeEquipmentName(g)
	case EquipmentCalibrationStandard:
		return standardName(g)
	}
	return g.SerialNumber
}

func threadName(g *Gauge) string {
	spec := threadSpecOf(g)
	if spec == nil {
		return fmt.Sprintf("S/N %s", g.SerialNumber)
	}
	member := "GO"
	if g.Suffix != nil && *g.Suffix == SuffixNoGo {
		member = "NO GO"
	}
	return fmt.Sprintf("%s %s %s Thread %s Gauge", spec.Size, spec.Form, spec.Class, member)
}

func handToolName(g *Gauge) string {
	if g.Spec == nil || g.Spec.HandTool == nil {
		return g.SerialNumber
	}
	spec := g.Spec.HandTool
	return fmt.Sprintf("%s-%s%s %s",
		trimFloat(spec.RangeMin), trimFloat(spec.RangeMax), UnitSymbol(spec.RangeUnit), spec.Format)
}

func largeEquipmentName(g *Gauge) string {
	if g.Spec == nil || g.Spec.Large == nil {
		return g.SerialNumber
	}
	spec := g.Spec.Large
	if spec.Capacity != "" {
		return fmt.Sprintf("%s (%s)", spec.Type, spec.Capacity)
	}
	return spec.Type
}

func standardName(g *Gauge) string {
	if g.Spec == nil || g.Spec.Standard == nil {
		return g.SerialNumber
	}
	spec := g.Spec.Standard
	return fmt.Sprintf("%s %s %s", spec.StandardType, spec.NominalValue, spec.UncertaintyUnits)
}

func threadSpecOf(g *Gauge) *ThreadSpec {
	if g.Spec == nil {
		return nil
	}
	return g.Spec.Thread
}

// trimFloat renders a float without trailing zeros: 0.5 -> "0.5", 6 -> "6".
func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}
