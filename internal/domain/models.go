package domain

import "time"

// SimType tags a sale with the SIM product sold. SimIssue marks a failed
// delivery; it carries no inventory and a fixed amount.
type SimType string

const (
	SimJawwy SimType = "jawwy"
	SimSawa  SimType = "sawa"
	SimMulti SimType = "multi"
	SimIssue SimType = "issue"
)

// TrackedSimTypes are the three inventory-backed product types, in the
// display order the agent expects.
var TrackedSimTypes = []SimType{SimJawwy, SimSawa, SimMulti}

// Tracked reports whether the type participates in stock accounting.
func (t SimType) Tracked() bool {
	return t == SimJawwy || t == SimSawa || t == SimMulti
}

// Valid reports whether the type is one of the four known tags.
func (t SimType) Valid() bool {
	return t.Tracked() || t == SimIssue
}

type FuelGrade string

const (
	Fuel91     FuelGrade = "91"
	Fuel95     FuelGrade = "95"
	FuelDiesel FuelGrade = "diesel"
)

// FuelPrices maps a grade to its unit price per liter. Liters on a fuel log
// entry are always derived from these at creation time.
var FuelPrices = map[FuelGrade]float64{
	Fuel91:     2.18,
	Fuel95:     2.33,
	FuelDiesel: 1.15,
}

func (g FuelGrade) Valid() bool {
	_, ok := FuelPrices[g]
	return ok
}

type StockAction string

const (
	StockActionReceive   StockAction = "add"
	StockActionReturn    StockAction = "return_company"
	StockActionToDamaged StockAction = "to_damaged"
	StockActionRecover   StockAction = "recover"
	StockActionDispose   StockAction = "flush"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

const (
	// IssueAmount is the fixed amount recorded for a failed-delivery
	// transaction, regardless of caller input.
	IssueAmount = 10

	// DefaultWeeklyTarget is used when settings carry no positive target.
	DefaultWeeklyTarget = 3000

	// FallbackWeeklyFuelEstimate is the next-week fuel estimate when there
	// is no spend history to average.
	FallbackWeeklyFuelEstimate = 150
)

// JawwyPrices and SharedPrices are the time-based price tiers offered on the
// sale sheet (two hours or less, 2-3 hours, more than 3 hours).
var (
	JawwyPrices  = []float64{30, 25, 20}
	SharedPrices = []float64{28, 24, 20}
)

// Transaction is one sale or delivery-failure event. Immutable once created;
// deletion is the only mutation and it reverses the stock effect.
type Transaction struct {
	ID   int64     `json:"id"`
	Date time.Time `json:"date"`
	Type SimType   `json:"type"`
	Amt  float64   `json:"amt"`
	Sims int       `json:"sims"`
}

// StockLogEntry is an append-only audit record of an inventory change.
type StockLogEntry struct {
	Date   time.Time   `json:"date"`
	Type   SimType     `json:"type"`
	Qty    int         `json:"qty"`
	Action StockAction `json:"action"`
}

// FuelLogEntry is one fuel purchase. Liters is derived from Amount and the
// grade unit price at creation time and never edited afterwards.
type FuelLogEntry struct {
	ID     int64     `json:"id"`
	Date   time.Time `json:"date"`
	Type   FuelGrade `json:"type"`
	Amount float64   `json:"amount"`
	Liters float64   `json:"liters"`
	KM     float64   `json:"km"`
}

type Settings struct {
	WeeklyTarget     float64   `json:"weeklyTarget"`
	ShowWeeklyTarget bool      `json:"showWeeklyTarget"`
	PreferredFuel    FuelGrade `json:"preferredFuel"`
}

// Ledger is one agent's complete business state. Transactions and both logs
// are ordered newest first. Stock and damaged counts must never go negative;
// operations that would violate that are rejected before mutation.
type Ledger struct {
	Tx       []Transaction   `json:"tx"`
	Stock    map[SimType]int `json:"stock"`
	Damaged  map[SimType]int `json:"damaged"`
	StockLog []StockLogEntry `json:"stockLog"`
	FuelLog  []FuelLogEntry  `json:"fuelLog"`
	Settings Settings        `json:"settings"`
}

// UserProfile is one agent account. Passwords are stored and compared in
// plain text: the document doubles as the replicated credential list read by
// every device, and that wire shape is the contract.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
	Name     string `json:"name"`
	DB       Ledger `json:"db"`
}

// SystemDocument is the root aggregate. Every mutation rewrites it wholesale;
// there are no partial updates.
type SystemDocument struct {
	Users       []UserProfile `json:"users"`
	GlobalTheme Theme         `json:"globalTheme"`
}

// NewLedger returns an empty ledger with zeroed stock buckets and default
// settings.
func NewLedger() Ledger {
	return Ledger{
		Tx:       []Transaction{},
		Stock:    map[SimType]int{SimJawwy: 0, SimSawa: 0, SimMulti: 0},
		Damaged:  map[SimType]int{SimJawwy: 0, SimSawa: 0, SimMulti: 0},
		StockLog: []StockLogEntry{},
		FuelLog:  []FuelLogEntry{},
		Settings: Settings{
			WeeklyTarget:     DefaultWeeklyTarget,
			ShowWeeklyTarget: true,
			PreferredFuel:    Fuel91,
		},
	}
}

// NewSystemDocument returns the seeded first-run document with the single
// admin profile.
func NewSystemDocument() SystemDocument {
	return SystemDocument{
		Users: []UserProfile{{
			ID:       "talal-admin",
			Username: "talal",
			Password: "00966",
			Role:     RoleAdmin,
			Name:     "طلال المندوب",
			DB:       NewLedger(),
		}},
		GlobalTheme: ThemeLight,
	}
}

// Valid reports whether the document is structurally acceptable: candidates
// from local storage, the remote store, or an import are rejected wholesale
// unless they carry at least one profile.
func (d SystemDocument) Valid() bool {
	return len(d.Users) > 0
}

// FindUser returns the index of the profile with the given id, or -1.
func (d SystemDocument) FindUser(id string) int {
	for i := range d.Users {
		if d.Users[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the ledger. Transforms start from a clone so
// the prior ledger value is never mutated in place.
func (l Ledger) Clone() Ledger {
	out := l
	out.Tx = append([]Transaction(nil), l.Tx...)
	out.StockLog = append([]StockLogEntry(nil), l.StockLog...)
	out.FuelLog = append([]FuelLogEntry(nil), l.FuelLog...)
	out.Stock = make(map[SimType]int, len(l.Stock))
	for k, v := range l.Stock {
		out.Stock[k] = v
	}
	out.Damaged = make(map[SimType]int, len(l.Damaged))
	for k, v := range l.Damaged {
		out.Damaged[k] = v
	}
	return out
}

// Clone returns a deep copy of the document.
func (d SystemDocument) Clone() SystemDocument {
	out := d
	out.Users = make([]UserProfile, len(d.Users))
	for i, u := range d.Users {
		u.DB = u.DB.Clone()
		out.Users[i] = u
	}
	return out
}

// Normalize fills in zero-value maps and slices on documents decoded from
// JSON written by other devices, so ledger operations can assume the buckets
// exist.
func (d *SystemDocument) Normalize() {
	for i := range d.Users {
		l := &d.Users[i].DB
		if l.Stock == nil {
			l.Stock = map[SimType]int{SimJawwy: 0, SimSawa: 0, SimMulti: 0}
		}
		if l.Damaged == nil {
			l.Damaged = map[SimType]int{SimJawwy: 0, SimSawa: 0, SimMulti: 0}
		}
		if l.Tx == nil {
			l.Tx = []Transaction{}
		}
		if l.StockLog == nil {
			l.StockLog = []StockLogEntry{}
		}
		if l.FuelLog == nil {
			l.FuelLog = []FuelLogEntry{}
		}
		if l.Settings.WeeklyTarget <= 0 {
			l.Settings.WeeklyTarget = DefaultWeeklyTarget
		}
		if l.Settings.PreferredFuel == "" {
			l.Settings.PreferredFuel = Fuel91
		}
	}
	if d.GlobalTheme != ThemeDark {
		d.GlobalTheme = ThemeLight
	}
}
