// Package id provides the identifiers herald hands out.
//
// Every identifier is a TypeID: a short kind prefix joined to a UUIDv7
// suffix, e.g. "del_01h455vb4pex5vsknk084sn02q". The suffix sorts by
// creation time, so listings ordered by ID are ordered by age. The prefix
// lets a parser reject an endpoint ID passed where a delivery ID belongs.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the kind tag at the front of an ID.
type Prefix string

// Kinds of herald identifiers.
const (
	PrefixEndpoint  Prefix = "ep"
	PrefixEvent     Prefix = "evt"
	PrefixDelivery  Prefix = "del"
	PrefixEventType Prefix = "evtype"
)

var errEmpty = errors.New("empty string")

// ID identifies one herald entity. The zero value is Nil; it renders as ""
// and is stored as NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the absent ID.
var Nil ID

// New mints a fresh ID of kind prefix. Prefixes are package constants, so
// an invalid one is a programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: cannot mint %q ids: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

func NewEndpointID() ID  { return New(PrefixEndpoint) }
func NewDeliveryID() ID  { return New(PrefixDelivery) }
func NewEventTypeID() ID { return New(PrefixEventType) }

// NewEventID mints an event ID. Each delivery record gets its own, which
// receivers see as X-Webhook-ID.
func NewEventID() ID { return New(PrefixEvent) }

// Parse reads an ID of any kind.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: %w", errEmpty)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix reads an ID and fails unless it is of kind want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q is a %q id, want %q", s, got, want)
	}
	return parsed, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return parsed
}

func ParseEndpointID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEndpoint) }
func ParseEventID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixEvent) }
func ParseDeliveryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDelivery) }

func (i ID) String() string {
	if i.IsNil() {
		return ""
	}
	return i.inner.String()
}

// Prefix reports the kind of i, or "" for Nil.
func (i ID) Prefix() Prefix {
	if i.IsNil() {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

func (i ID) IsNil() bool { return !i.valid }

// MarshalText encodes Nil as an empty string so JSON sees "".
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText accepts "" as Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value stores Nil as NULL and anything else as its string form.
func (i ID) Value() (driver.Value, error) {
	if i.IsNil() {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.String(), nil
}

// Scan reads a NULL, string or byte column.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: scan: unsupported column type %T", src)
	}
}
