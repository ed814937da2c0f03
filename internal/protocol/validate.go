package protocol

import (
	"errors"
	"fmt"
	"math"
	"strings"

	// Terminal hosts are mostly Windows, which ships no zoneinfo database.
	_ "time/tzdata"
)

// ErrInvalidConfig is returned for a configuration a CONFIG line cannot
// carry.
var ErrInvalidConfig = errors.New("invalid account config")

// ValidateSlaveConfig applies the rules the CONFIG line parser enforces and
// returns cfg in the normalized form Serialize writes. A config accepted here
// always reads back from a state file.
func ValidateSlaveConfig(cfg SlaveConfig) (SlaveConfig, error) {
	out := cfg.Clone()
	invalid := func(format string, args ...any) (SlaveConfig, error) {
		return SlaveConfig{}, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch {
	case !finite(out.LotMultiplier) || out.LotMultiplier < 0:
		return invalid("lot multiplier %v", out.LotMultiplier)
	case out.LotMultiplier == 0:
		out.LotMultiplier = 1
	}
	lots := []struct {
		name string
		v    **float64
	}{
		{"force lot", &out.ForceLot},
		{"max lot", &out.MaxLotSize},
		{"min lot", &out.MinLotSize},
	}
	for _, l := range lots {
		if *l.v == nil {
			continue
		}
		f := **l.v
		if !finite(f) || f < 0 {
			return invalid("%s %v", l.name, f)
		}
		if f == 0 {
			*l.v = nil
		}
	}
	if out.MaxLotSize != nil && out.MinLotSize != nil && *out.MinLotSize > *out.MaxLotSize {
		return invalid("min lot %v above max lot %v", *out.MinLotSize, *out.MaxLotSize)
	}

	out.MasterID = strings.TrimSpace(out.MasterID)
	if strings.ContainsAny(out.MasterID, "[]") {
		return invalid("master id %q", out.MasterID)
	}

	sets := []struct {
		name  string
		v     *[]string
		upper bool
	}{
		{"allowed symbol", &out.AllowedSymbols, false},
		{"blocked symbol", &out.BlockedSymbols, false},
		{"allowed order type", &out.AllowedOrderTypes, true},
		{"blocked order type", &out.BlockedOrderTypes, true},
	}
	for _, s := range sets {
		for _, member := range *s.v {
			if strings.ContainsAny(member, "[],") || isNull(member) {
				return invalid("%s %q", s.name, member)
			}
		}
		*s.v = normalizeSet(*s.v, s.upper)
	}

	h := out.TradingHours
	if h.Start == "" && h.End == "" && h.Timezone == "" {
		if h.Enabled {
			return invalid("trading hours enabled without a window")
		}
		return out, nil
	}
	window := h.Start + "-" + h.End
	if h.Timezone != "" {
		window += "@" + h.Timezone
	}
	hours, ok := parseTradingHours(window)
	if !ok {
		return invalid("trading hours %q", window)
	}
	hours.Enabled = h.Enabled
	out.TradingHours = hours
	return out, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
