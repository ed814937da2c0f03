package protocol

import (
	"sort"
	"strconv"
	"strings"
)

// Serialize writes records in the current TYPE/STATUS/CONFIG/TRANSLATE/ORDER
// form, UTF-8, one account block after another.
func Serialize(records []AccountRecord) []byte {
	var b strings.Builder
	for _, rec := range records {
		writeRecord(&b, rec)
	}
	return []byte(b.String())
}

func writeRecord(b *strings.Builder, rec AccountRecord) {
	role := rec.Role
	if role == "" {
		role = RolePending
	}
	platform := rec.Platform
	if platform == "" {
		platform = PlatformUnknown
	}
	status := rec.Status
	if status == "" {
		status = rec.ReportedStatus
	}
	if status == "" {
		status = StatusOffline
	}

	writeLine(b, tagType, string(role), string(platform), rec.AccountID)
	writeLine(b, tagStatus, string(status), FormatTimestamp(rec.LastSeen))
	writeLine(b, configFields(rec)...)
	writeLine(b, translateFields(rec.Translations)...)
	if role == RoleMaster {
		for _, o := range rec.Orders {
			writeLine(b, tagOrder, o.Ticket, o.Symbol, o.Side,
				formatFloat(o.Volume), formatFloat(o.OpenPrice),
				formatFloat(o.SL), formatFloat(o.TP), FormatTimestamp(o.Time))
		}
	}
}

func configFields(rec AccountRecord) []string {
	switch rec.Role {
	case RoleMaster:
		cfg := MasterConfig{}
		if rec.Master != nil {
			cfg = *rec.Master
		}
		name := cfg.Name
		if name == "" {
			name = nullField
		}
		return []string{tagConfig, string(RoleMaster), formatBool(cfg.Enabled), name}
	case RoleSlave:
		cfg := DefaultSlaveConfig()
		if rec.Slave != nil {
			cfg = *rec.Slave
		}
		mult := cfg.LotMultiplier
		if mult <= 0 {
			mult = 1
		}
		return []string{
			tagConfig, string(RoleSlave),
			formatBool(cfg.Enabled),
			formatFloat(mult),
			formatOptional(cfg.ForceLot),
			formatBool(cfg.ReverseTrading),
			orNull(cfg.MasterID),
			formatOptional(cfg.MaxLotSize),
			formatOptional(cfg.MinLotSize),
			formatSet(cfg.AllowedSymbols, false),
			formatSet(cfg.BlockedSymbols, false),
			formatSet(cfg.AllowedOrderTypes, true),
			formatSet(cfg.BlockedOrderTypes, true),
			formatHours(cfg.TradingHours),
			formatBool(cfg.TradingHours.Enabled),
		}
	}
	return []string{tagConfig, string(RolePending)}
}

func translateFields(pairs map[string]string) []string {
	if len(pairs) == 0 {
		return []string{tagTranslate, nullField}
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := []string{tagTranslate}
	for _, k := range keys {
		out = append(out, k+":"+pairs[k])
	}
	return out
}

func writeLine(b *strings.Builder, fields ...string) {
	for _, f := range fields {
		b.WriteByte('[')
		b.WriteString(sanitize(f))
		b.WriteByte(']')
	}
	b.WriteByte('\n')
}

// sanitize keeps field text from breaking the bracket framing.
func sanitize(s string) string {
	return strings.NewReplacer("[", "(", "]", ")", "\n", " ", "\r", " ").Replace(s)
}

func formatBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatOptional(f *float64) string {
	if f == nil || *f <= 0 {
		return nullField
	}
	return formatFloat(*f)
}

func formatSet(s []string, upper bool) string {
	s = normalizeSet(s, upper)
	if len(s) == 0 {
		return nullField
	}
	return strings.Join(s, ",")
}

// formatHours writes the window even when it is switched off so the times
// survive a round trip; the enabled flag travels in the next field.
func formatHours(h TradingHours) string {
	if h.Start == "" && h.End == "" {
		return nullField
	}
	zone := h.Timezone
	if zone == "" {
		zone = "UTC"
	}
	return h.Start + "-" + h.End + "@" + zone
}

func orNull(s string) string {
	if s == "" {
		return nullField
	}
	return s
}
