package domain

import (
	"fmt"
	"strings"
)

// Designator number ranges used by the ATCF best-track system.
const (
	MinNamedNumber  = 1
	MaxNamedNumber  = 69
	MinInvestNumber = 90
	MaxInvestNumber = 99
)

// ClassifyNumber maps a designator number to its disturbance class. Numbers
// 70-89 are reserved (training and test systems) and never represent a real
// disturbance.
func ClassifyNumber(n int) (DisturbanceClass, error) {
	switch {
	case n >= MinNamedNumber && n <= MaxNamedNumber:
		return ClassNamed, nil
	case n >= MinInvestNumber && n <= MaxInvestNumber:
		return ClassInvest, nil
	case n > MaxNamedNumber && n < MinInvestNumber:
		return ClassUnknown, fmt.Errorf("%w: %d", ErrReservedDesignator, n)
	default:
		return ClassUnknown, fmt.Errorf("%w: designator %d out of range", ErrMalformedCandidate, n)
	}
}

// IdentityKey formats the basin/number/season triple, e.g. "AL052021".
func IdentityKey(basin string, number, season int) string {
	return fmt.Sprintf("%s%02d%04d", strings.ToUpper(basin), number, season)
}

// issuingCenter returns the warning center responsible for the basin.
func issuingCenter(basin string) string {
	switch basin {
	case "AL", "EP", "CP":
		return "NHC"
	default:
		return "JTWC"
	}
}

// defaultSubregion is the single-letter suffix used when the bulletin does
// not carry one.
func defaultSubregion(basin string) string {
	switch basin {
	case "AL":
		return "L"
	case "EP":
		return "E"
	case "CP":
		return "C"
	case "WP":
		return "W"
	case "IO":
		return "B"
	case "SH":
		return "S"
	default:
		return ""
	}
}

// StormType returns the basin-specific classification for a peak sustained
// wind in knots.
func StormType(basin string, windKt int) string {
	switch basin {
	case "AL", "EP", "CP":
		switch {
		case windKt < 34:
			return "TD"
		case windKt < 63:
			return "TS"
		default:
			return "HU"
		}
	case "WP":
		switch {
		case windKt < 34:
			return "TD"
		case windKt < 63:
			return "TS"
		case windKt < 130:
			return "TY"
		default:
			return "STY"
		}
	case "SH":
		if windKt < 63 {
			return "TC"
		}
		return "STC"
	case "IO":
		switch {
		case windKt < 28:
			return "DE"
		case windKt < 34:
			return "DD"
		case windKt < 48:
			return "CS"
		case windKt < 64:
			return "SCS"
		case windKt < 90:
			return "VSCS"
		case windKt < 120:
			return "ESCS"
		default:
			return "SuCS"
		}
	default:
		return "CY"
	}
}

// DisplayName builds the human-facing name: "NHC-91L" for invests and
// "HU-Ida" for named storms.
func DisplayName(basin string, number int, subregion, name string, peakWindKt int) string {
	class, _ := ClassifyNumber(number)
	if class == ClassInvest {
		if subregion == "" {
			subregion = defaultSubregion(basin)
		}
		return fmt.Sprintf("%s-%02d%s", issuingCenter(basin), number, strings.ToUpper(subregion))
	}

	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "INVEST") {
		name = fmt.Sprintf("%s%02d", basin, number)
	} else {
		name = titleCase(name)
	}
	return StormType(basin, peakWindKt) + "-" + name
}

func titleCase(s string) string {
	parts := strings.Fields(strings.ToLower(s))
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
