package protocol

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role is the copy-trading role an account currently plays.
type Role string

const (
	RolePending Role = "PENDING"
	RoleMaster  Role = "MASTER"
	RoleSlave   Role = "SLAVE"
)

// ParseRole normalizes a role token. ok is false for anything unrecognized.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "0":
		return RolePending, true
	case "MASTER":
		return RoleMaster, true
	case "SLAVE":
		return RoleSlave, true
	}
	return "", false
}

// Configured reports whether the role is MASTER or SLAVE.
func (r Role) Configured() bool {
	return r == RoleMaster || r == RoleSlave
}

// Status is the liveness of an account.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
)

// ParseStatus normalizes a status token; unknown values read as OFFLINE.
func ParseStatus(s string) Status {
	if strings.EqualFold(strings.TrimSpace(s), string(StatusOnline)) {
		return StatusOnline
	}
	return StatusOffline
}

// Platform identifies the trading platform an account lives on. The set is
// open: values not listed here normalize to PlatformUnknown.
type Platform string

const (
	PlatformMT4         Platform = "MT4"
	PlatformMT5         Platform = "MT5"
	PlatformCTrader     Platform = "CTRADER"
	PlatformNinjaTrader Platform = "NINJATRADER"
	PlatformTradingView Platform = "TRADINGVIEW"
	PlatformUnknown     Platform = "UNKNOWN"
)

var knownPlatforms = map[string]Platform{
	"MT4":         PlatformMT4,
	"MT5":         PlatformMT5,
	"CTRADER":     PlatformCTrader,
	"NINJATRADER": PlatformNinjaTrader,
	"TRADINGVIEW": PlatformTradingView,
}

// ParsePlatform never fails; unrecognized platforms become PlatformUnknown.
func ParsePlatform(s string) Platform {
	if p, ok := knownPlatforms[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return p
	}
	return PlatformUnknown
}

func isPlatform(s string) bool {
	_, ok := knownPlatforms[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

// MasterConfig is the configuration of a MASTER account.
type MasterConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
}

// TradingHours restricts the window in which a slave copies trades.
type TradingHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// SlaveConfig is the configuration of a SLAVE account. MasterID is empty when
// the slave is not connected.
type SlaveConfig struct {
	Enabled           bool         `json:"enabled"`
	LotMultiplier     float64      `json:"lotMultiplier"`
	ForceLot          *float64     `json:"forceLot,omitempty"`
	ReverseTrading    bool         `json:"reverseTrading"`
	MaxLotSize        *float64     `json:"maxLotSize,omitempty"`
	MinLotSize        *float64     `json:"minLotSize,omitempty"`
	AllowedSymbols    []string     `json:"allowedSymbols,omitempty"`
	BlockedSymbols    []string     `json:"blockedSymbols,omitempty"`
	AllowedOrderTypes []string     `json:"allowedOrderTypes,omitempty"`
	BlockedOrderTypes []string     `json:"blockedOrderTypes,omitempty"`
	TradingHours      TradingHours `json:"tradingHours"`
	MasterID          string       `json:"masterId,omitempty"`
}

// DefaultSlaveConfig returns a disabled, unconnected slave with multiplier 1.
func DefaultSlaveConfig() SlaveConfig {
	return SlaveConfig{LotMultiplier: 1.0}
}

// Sizing names which lot rule is active for a slave.
type Sizing string

const (
	SizingMultiplier Sizing = "multiplier"
	SizingForced     Sizing = "forced"
)

// ActiveSizing reports whether the forced lot or the multiplier drives sizing.
func (c SlaveConfig) ActiveSizing() Sizing {
	if c.ForceLot != nil && *c.ForceLot > 0 {
		return SizingForced
	}
	return SizingMultiplier
}

// EffectiveLot computes the slave lot for a master lot, clamped to the
// configured bounds. The arithmetic runs in decimal so 0.1 lots times 3 is
// 0.3, not 0.30000000000000004.
func (c SlaveConfig) EffectiveLot(masterLot float64) float64 {
	var lot decimal.Decimal
	if c.ActiveSizing() == SizingForced {
		lot = decimal.NewFromFloat(*c.ForceLot)
	} else {
		mult := c.LotMultiplier
		if mult <= 0 {
			mult = 1
		}
		lot = decimal.NewFromFloat(masterLot).Mul(decimal.NewFromFloat(mult))
	}
	if c.MaxLotSize != nil && *c.MaxLotSize > 0 {
		lot = decimal.Min(lot, decimal.NewFromFloat(*c.MaxLotSize))
	}
	if c.MinLotSize != nil && *c.MinLotSize > 0 {
		lot = decimal.Max(lot, decimal.NewFromFloat(*c.MinLotSize))
	}
	f, _ := lot.Float64()
	return f
}

// Clone returns a deep copy.
func (c SlaveConfig) Clone() SlaveConfig {
	out := c
	out.ForceLot = cloneFloat(c.ForceLot)
	out.MaxLotSize = cloneFloat(c.MaxLotSize)
	out.MinLotSize = cloneFloat(c.MinLotSize)
	out.AllowedSymbols = cloneSet(c.AllowedSymbols)
	out.BlockedSymbols = cloneSet(c.BlockedSymbols)
	out.AllowedOrderTypes = cloneSet(c.AllowedOrderTypes)
	out.BlockedOrderTypes = cloneSet(c.BlockedOrderTypes)
	return out
}

// Order is one open trade line of a master account.
type Order struct {
	Ticket    string    `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Volume    float64   `json:"volume"`
	OpenPrice float64   `json:"openPrice"`
	SL        float64   `json:"sl"`
	TP        float64   `json:"tp"`
	Time      time.Time `json:"time"`
}

// AccountRecord is one trading account as read from a state file.
type AccountRecord struct {
	AccountID      string            `json:"accountId"`
	Platform       Platform          `json:"platform"`
	Role           Role              `json:"role"`
	Status         Status            `json:"status"`
	ReportedStatus Status            `json:"reportedStatus,omitempty"`
	LastSeen       time.Time         `json:"lastSeen"`
	Master         *MasterConfig     `json:"master,omitempty"`
	Slave          *SlaveConfig      `json:"slave,omitempty"`
	Translations   map[string]string `json:"translations,omitempty"`
	Orders         []Order           `json:"orders,omitempty"`
	SourcePath     string            `json:"sourcePath,omitempty"`

	// Promoted is set when a CONFIG line declared a role different from the
	// block's TYPE line.
	Promoted bool `json:"-"`
}

// Clone returns a deep copy of the record.
func (r AccountRecord) Clone() AccountRecord {
	out := r
	if r.Master != nil {
		m := *r.Master
		out.Master = &m
	}
	if r.Slave != nil {
		s := r.Slave.Clone()
		out.Slave = &s
	}
	if r.Translations != nil {
		out.Translations = make(map[string]string, len(r.Translations))
		for k, v := range r.Translations {
			out.Translations[k] = v
		}
	}
	if r.Orders != nil {
		out.Orders = append([]Order(nil), r.Orders...)
	}
	return out
}

// Enabled returns the enabled flag carried by the role config, if any.
func (r AccountRecord) Enabled() (bool, bool) {
	switch {
	case r.Role == RoleMaster && r.Master != nil:
		return r.Master.Enabled, true
	case r.Role == RoleSlave && r.Slave != nil:
		return r.Slave.Enabled, true
	}
	return false, false
}

// MasterID returns the connected master of a slave, or "".
func (r AccountRecord) MasterID() string {
	if r.Role == RoleSlave && r.Slave != nil {
		return r.Slave.MasterID
	}
	return ""
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneSet(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

// normalizeSet trims, dedupes and sorts set members so that two equal sets
// compare equal regardless of file order. Duplicates are matched without
// regard to case, but the first spelling is kept: brokers use suffixes such
// as EURUSDm or EURUSD.pro and plugins match symbols verbatim. upper forces
// upper case, for fixed vocabularies like order types.
func normalizeSet(in []string, upper bool) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if upper {
			s = strings.ToUpper(s)
		}
		if s == "" || containsFold(out, s) {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := strings.ToLower(out[i]), strings.ToLower(out[j])
		if a != b {
			return a < b
		}
		return out[i] < out[j]
	})
	return out
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Float returns a pointer to f. Handy for optional config fields.
func Float(f float64) *float64 {
	return &f
}
