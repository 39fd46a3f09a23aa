package vault

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	kerrors "github.com/illarion/passync/internal/errors"
)

const (
	DateLayout        = "01-02-2006" // month-day-year, as stored in last-refresh
	MaxNameLength     = 128
	MaxPasswordLength = 256
)

// Date is a calendar day without a time of day.
type Date struct {
	year  int
	month time.Month
	day   int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{year: y, month: m, day: d}
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a DateLayout string. The empty string is the zero Date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC)
}

// Before reports whether d is an earlier day than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time().Format(DateLayout)
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Entry is one stored credential. Password is only readable with the entry
// key, and Key is always the entry key wrapped under some other key.
type Entry struct {
	Password    string `json:"password"`
	Key         string `json:"key"`
	LastRefresh Date   `json:"last-refresh"`
}

// Endpoint is a saved remote sync endpoint.
type Endpoint struct {
	Address string `json:"server_address"`
	Port    int    `json:"server_port"`
}

// HostPort returns the dialable address.
func (e Endpoint) HostPort() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// Services maps service → username → entry.
type Services map[string]map[string]Entry

// Vault is a user's entries plus the endpoints they sync with.
type Vault struct {
	Data    Services            `json:"data"`
	Servers map[string]Endpoint `json:"servers"`
}

// New returns an empty vault.
func New() *Vault {
	return &Vault{
		Data:    make(Services),
		Servers: make(map[string]Endpoint),
	}
}

// Clone returns a deep copy.
func (v *Vault) Clone() *Vault {
	out := New()
	if v == nil {
		return out
	}
	for service, users := range v.Data {
		copied := make(map[string]Entry, len(users))
		for user, e := range users {
			copied[user] = e
		}
		out.Data[service] = copied
	}
	for title, ep := range v.Servers {
		out.Servers[title] = ep
	}
	return out
}

// Get returns the entry for service and username.
func (v *Vault) Get(service, username string) (Entry, bool) {
	e, ok := v.Data[service][username]
	return e, ok
}

// Put stores an entry, creating the service if needed.
func (v *Vault) Put(service, username string, e Entry) {
	if v.Data == nil {
		v.Data = make(Services)
	}
	users, ok := v.Data[service]
	if !ok {
		users = make(map[string]Entry)
		v.Data[service] = users
	}
	users[username] = e
}

// Delete removes an entry and prunes the service if it becomes empty.
func (v *Vault) Delete(service, username string) bool {
	users, ok := v.Data[service]
	if !ok {
		return false
	}
	if _, ok := users[username]; !ok {
		return false
	}
	delete(users, username)
	if len(users) == 0 {
		delete(v.Data, service)
	}
	return true
}

// Prune drops services without entries.
func (v *Vault) Prune() {
	for service, users := range v.Data {
		if len(users) == 0 {
			delete(v.Data, service)
		}
	}
}

// Len returns the number of entries.
func (v *Vault) Len() int {
	n := 0
	for _, users := range v.Data {
		n += len(users)
	}
	return n
}

// ServiceNames returns the services in sorted order.
func (v *Vault) ServiceNames() []string {
	names := make([]string, 0, len(v.Data))
	for service := range v.Data {
		names = append(names, service)
	}
	sort.Strings(names)
	return names
}

// Usernames returns the usernames of a service in sorted order.
func (v *Vault) Usernames(service string) []string {
	users := v.Data[service]
	names := make([]string, 0, len(users))
	for user := range users {
		names = append(names, user)
	}
	sort.Strings(names)
	return names
}

// Ref identifies an entry.
type Ref struct {
	Service  string
	Username string
}

func (r Ref) String() string {
	return r.Service + "/" + r.Username
}

// Refs lists every entry in sorted order.
func (v *Vault) Refs() []Ref {
	refs := make([]Ref, 0, v.Len())
	for _, service := range v.ServiceNames() {
		for _, user := range v.Usernames(service) {
			refs = append(refs, Ref{Service: service, Username: user})
		}
	}
	return refs
}

// ValidateName rejects empty, overlong or non-printable names.
func ValidateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s cannot be empty", kerrors.ErrInvalidName, kind)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %s longer than %d bytes", kerrors.ErrInvalidName, kind, MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control characters", kerrors.ErrInvalidName, kind)
		}
	}
	return nil
}

// ValidatePassword rejects empty and overlong passwords.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password cannot be empty", kerrors.ErrInvalidName)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password longer than %d bytes", kerrors.ErrInvalidName, MaxPasswordLength)
	}
	return nil
}

// ValidateUsername is ValidateName plus the document's reserved keys.
func ValidateUsername(name string) error {
	if err := ValidateName("username", name); err != nil {
		return err
	}
	switch name {
	case docKeyKey, docKeyData, docKeyServers:
		return fmt.Errorf("%w: %q is reserved", kerrors.ErrInvalidName, name)
	}
	return nil
}
