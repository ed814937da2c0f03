package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Discriminators recognised in the first field of a line.
const (
	tagType      = "TYPE"
	tagStatus    = "STATUS"
	tagConfig    = "CONFIG"
	tagTranslate = "TRANSLATE"
	tagOrder     = "ORDER"
	tagTicket    = "TICKET"
	tagLegacy    = "0"

	nullField = "NULL"
)

// Kind tags a parsed line variant.
type Kind string

const (
	KindLegacyPending Kind = "legacy_pending"
	KindType          Kind = "type"
	KindStatus        Kind = "status"
	KindConfig        Kind = "config"
	KindTranslate     Kind = "translate"
	KindOrder         Kind = "order"
	KindUnparsed      Kind = "unparsed"
)

// Line is one parsed state-file line. The concrete type is decided by the
// discriminator field.
type Line interface {
	Kind() Kind
}

// LegacyPendingLine is the five-field heartbeat
// [0][accountId][platform][status][timestamp] written by older plugins.
type LegacyPendingLine struct {
	AccountID string
	Platform  Platform
	Status    Status
	Timestamp time.Time
}

// TypeLine opens an account block.
type TypeLine struct {
	Role      Role
	Platform  Platform
	AccountID string
	// Legacy is true for the [TYPE][platform][accountId] field order.
	Legacy bool
}

// StatusLine carries the plugin-reported status. It is audit data only.
type StatusLine struct {
	Status    Status
	Timestamp time.Time
}

// ConfigLine carries the role and the role-specific configuration.
type ConfigLine struct {
	Role   Role
	Master *MasterConfig
	Slave  *SlaveConfig
}

// TranslateLine maps master symbols to slave symbols. An empty map means NULL.
type TranslateLine struct {
	Pairs map[string]string
}

// OrderLine is one open master trade.
type OrderLine struct {
	Order Order
}

// Unparsed holds a line that could not be mapped to a variant. Err is nil for
// lines with an unknown discriminator, which are skipped silently.
type Unparsed struct {
	Text string
	Err  *ProtocolError
}

func (LegacyPendingLine) Kind() Kind { return KindLegacyPending }
func (TypeLine) Kind() Kind          { return KindType }
func (StatusLine) Kind() Kind        { return KindStatus }
func (ConfigLine) Kind() Kind        { return KindConfig }
func (TranslateLine) Kind() Kind     { return KindTranslate }
func (OrderLine) Kind() Kind         { return KindOrder }
func (Unparsed) Kind() Kind          { return KindUnparsed }

// SplitFields splits "[A][B][C]" into its bracketed fields. ok is false when
// the text is not a bracket list.
func SplitFields(line string) ([]string, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 2 || line[0] != '[' {
		return nil, false
	}
	// Some plugins terminate lines with a stray separator.
	line = strings.TrimRight(line, ",;")
	if line[len(line)-1] != ']' {
		return nil, false
	}
	inner := line[1 : len(line)-1]
	fields := strings.Split(inner, "][")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields, true
}

// ParseLine maps one raw line to its variant.
func ParseLine(text string) Line {
	fields, ok := SplitFields(text)
	if !ok {
		return Unparsed{Text: text, Err: protoErr(text, "not a bracketed field list")}
	}

	switch strings.ToUpper(fields[0]) {
	case tagLegacy:
		return parseLegacy(text, fields)
	case tagType:
		return parseType(text, fields)
	case tagStatus:
		return parseStatus(text, fields)
	case tagConfig:
		return parseConfig(text, fields)
	case tagTranslate:
		return parseTranslate(text, fields)
	case tagOrder, tagTicket:
		return parseOrder(text, fields)
	}
	return Unparsed{Text: text}
}

func parseLegacy(text string, f []string) Line {
	if len(f) != 5 {
		return Unparsed{Text: text, Err: protoErr(text, "legacy pending line needs 5 fields, got %d", len(f))}
	}
	if f[1] == "" {
		return Unparsed{Text: text, Err: protoErr(text, "empty account id")}
	}
	return LegacyPendingLine{
		AccountID: f[1],
		Platform:  ParsePlatform(f[2]),
		Status:    ParseStatus(f[3]),
		Timestamp: ParseTimestamp(f[4]),
	}
}

func parseType(text string, f []string) Line {
	switch {
	case len(f) == 3:
		if f[2] == "" {
			return Unparsed{Text: text, Err: protoErr(text, "empty account id")}
		}
		return TypeLine{Role: RolePending, Platform: ParsePlatform(f[1]), AccountID: f[2], Legacy: true}
	case len(f) >= 4:
		if role, ok := ParseRole(f[1]); ok {
			if f[3] == "" {
				return Unparsed{Text: text, Err: protoErr(text, "empty account id")}
			}
			return TypeLine{Role: role, Platform: ParsePlatform(f[2]), AccountID: f[3]}
		}
		if isPlatform(f[1]) && f[2] != "" {
			return TypeLine{Role: RolePending, Platform: ParsePlatform(f[1]), AccountID: f[2], Legacy: true}
		}
		return Unparsed{Text: text, Err: protoErr(text, "unknown role %q", f[1])}
	}
	return Unparsed{Text: text, Err: protoErr(text, "TYPE line needs 3 or 4 fields, got %d", len(f))}
}

func parseStatus(text string, f []string) Line {
	if len(f) < 3 {
		return Unparsed{Text: text, Err: protoErr(text, "STATUS line needs 3 fields, got %d", len(f))}
	}
	return StatusLine{Status: ParseStatus(f[1]), Timestamp: ParseTimestamp(f[2])}
}

func parseConfig(text string, f []string) Line {
	if len(f) < 2 {
		return Unparsed{Text: text, Err: protoErr(text, "CONFIG line without role")}
	}
	role, ok := ParseRole(f[1])
	if !ok {
		return Unparsed{Text: text, Err: protoErr(text, "unknown role %q", f[1])}
	}

	switch role {
	case RoleMaster:
		cfg := MasterConfig{}
		if len(f) > 2 {
			enabled, ok := parseBool(f[2])
			if !ok {
				return Unparsed{Text: text, Err: protoErr(text, "invalid enabled flag %q", f[2])}
			}
			cfg.Enabled = enabled
		}
		if len(f) > 3 && !isNull(f[3]) {
			cfg.Name = f[3]
		}
		return ConfigLine{Role: role, Master: &cfg}
	case RoleSlave:
		cfg, err := parseSlaveFields(text, f[2:])
		if err != nil {
			return Unparsed{Text: text, Err: err}
		}
		return ConfigLine{Role: role, Slave: &cfg}
	}
	return ConfigLine{Role: RolePending}
}

// parseSlaveFields decodes the positional slave layout:
// enabled, lotMultiplier, forceLot, reverse, masterId, maxLot, minLot,
// allowedSymbols, blockedSymbols, allowedOrderTypes, blockedOrderTypes,
// tradingHours, tradingHoursEnabled. Missing trailing fields keep their
// defaults; a window without the enabled field is on, as older plugins
// only wrote the window when it was active.
func parseSlaveFields(text string, f []string) (SlaveConfig, *ProtocolError) {
	cfg := DefaultSlaveConfig()
	get := func(i int) (string, bool) {
		if i >= len(f) || isNull(f[i]) {
			return "", false
		}
		return f[i], true
	}

	if v, ok := get(0); ok {
		b, valid := parseBool(v)
		if !valid {
			return cfg, protoErr(text, "invalid enabled flag %q", v)
		}
		cfg.Enabled = b
	}
	if v, ok := get(1); ok {
		m, err := strconv.ParseFloat(v, 64)
		if err != nil || m <= 0 {
			return cfg, protoErr(text, "invalid lot multiplier %q", v)
		}
		cfg.LotMultiplier = m
	}
	var perr *ProtocolError
	if cfg.ForceLot, perr = optionalLot(text, "force lot", f, 2); perr != nil {
		return cfg, perr
	}
	if v, ok := get(3); ok {
		b, valid := parseBool(v)
		if !valid {
			return cfg, protoErr(text, "invalid reverse flag %q", v)
		}
		cfg.ReverseTrading = b
	}
	if v, ok := get(4); ok {
		cfg.MasterID = v
	}
	if cfg.MaxLotSize, perr = optionalLot(text, "max lot", f, 5); perr != nil {
		return cfg, perr
	}
	if cfg.MinLotSize, perr = optionalLot(text, "min lot", f, 6); perr != nil {
		return cfg, perr
	}
	if v, ok := get(7); ok {
		cfg.AllowedSymbols = normalizeSet(strings.Split(v, ","), false)
	}
	if v, ok := get(8); ok {
		cfg.BlockedSymbols = normalizeSet(strings.Split(v, ","), false)
	}
	if v, ok := get(9); ok {
		cfg.AllowedOrderTypes = normalizeSet(strings.Split(v, ","), true)
	}
	if v, ok := get(10); ok {
		cfg.BlockedOrderTypes = normalizeSet(strings.Split(v, ","), true)
	}
	if v, ok := get(11); ok {
		hours, valid := parseTradingHours(v)
		if !valid {
			return cfg, protoErr(text, "invalid trading hours %q", v)
		}
		cfg.TradingHours = hours
	}
	if v, ok := get(12); ok {
		on, valid := parseBool(v)
		if !valid {
			return cfg, protoErr(text, "invalid trading hours flag %q", v)
		}
		cfg.TradingHours.Enabled = on && cfg.TradingHours.Start != ""
	}
	return cfg, nil
}

// optionalLot parses an optional positive lot. Zero or negative values mean
// "not set".
func optionalLot(text, name string, f []string, i int) (*float64, *ProtocolError) {
	if i >= len(f) || isNull(f[i]) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(f[i], 64)
	if err != nil {
		return nil, protoErr(text, "invalid %s %q", name, f[i])
	}
	if v <= 0 {
		return nil, nil
	}
	return &v, nil
}

// parseTradingHours reads "HH:MM-HH:MM@Zone"; the zone defaults to UTC.
func parseTradingHours(v string) (TradingHours, bool) {
	zone := "UTC"
	if i := strings.LastIndex(v, "@"); i >= 0 {
		zone = strings.TrimSpace(v[i+1:])
		v = v[:i]
	}
	start, end, ok := strings.Cut(v, "-")
	if !ok || !validClock(start) || !validClock(end) {
		return TradingHours{}, false
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return TradingHours{}, false
	}
	return TradingHours{Enabled: true, Start: strings.TrimSpace(start), End: strings.TrimSpace(end), Timezone: zone}, true
}

func validClock(s string) bool {
	_, err := time.Parse("15:04", strings.TrimSpace(s))
	return err == nil
}

func parseTranslate(text string, f []string) Line {
	pairs := make(map[string]string)
	if len(f) < 2 {
		return Unparsed{Text: text, Err: protoErr(text, "TRANSLATE line without pairs")}
	}
	if len(f) == 2 && isNull(f[1]) {
		return TranslateLine{Pairs: pairs}
	}
	for _, field := range f[1:] {
		for _, pair := range strings.Split(field, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			from, to, ok := strings.Cut(pair, ":")
			from, to = strings.TrimSpace(from), strings.TrimSpace(to)
			if !ok || from == "" || to == "" {
				return Unparsed{Text: text, Err: protoErr(text, "invalid symbol pair %q", pair)}
			}
			pairs[from] = to
		}
	}
	return TranslateLine{Pairs: pairs}
}

func parseOrder(text string, f []string) Line {
	if len(f) < 9 {
		return Unparsed{Text: text, Err: protoErr(text, "ORDER line needs 9 fields, got %d", len(f))}
	}
	nums := make([]float64, 4)
	for i, idx := range []int{4, 5, 6, 7} {
		if f[idx] == "" || isNull(f[idx]) {
			continue
		}
		v, err := strconv.ParseFloat(f[idx], 64)
		if err != nil {
			return Unparsed{Text: text, Err: protoErr(text, "invalid number %q", f[idx])}
		}
		nums[i] = v
	}
	if f[1] == "" || f[2] == "" {
		return Unparsed{Text: text, Err: protoErr(text, "order without ticket or symbol")}
	}
	return OrderLine{Order: Order{
		Ticket:    f[1],
		Symbol:    f[2],
		Side:      strings.ToUpper(f[3]),
		Volume:    nums[0],
		OpenPrice: nums[1],
		SL:        nums[2],
		TP:        nums[3],
		Time:      ParseTimestamp(f[8]),
	}}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRUE", "ENABLED", "ON", "1", "YES":
		return true, true
	case "FALSE", "DISABLED", "OFF", "0", "NO":
		return false, true
	}
	return false, false
}

func isNull(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), nullField)
}
