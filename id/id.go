// Package id mints the TypeIDs that name records living outside the ledger
// tables: audit trail events and HTTP request correlation ids. Both render
// as "prefix_suffix" with a UUIDv7 suffix, so they sort by creation time.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the kind of record an ID names.
type Prefix string

// Domain rows (users, plans, subscriptions, periods) keep their
// database-assigned integers; only these kinds get a TypeID.
const (
	PrefixAuditEvent Prefix = "aevt"
	PrefixRequest    Prefix = "req"
)

// ID is a TypeID tagged with one of the prefixes above. The zero value is
// Nil and renders as the empty string.
type ID struct {
	tid typeid.TypeID
	ok  bool
}

// Nil is the zero-value ID.
var Nil ID

// New mints an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, ok: true}
}

// Parse reads a TypeID and checks it carries the wanted prefix.
func Parse(s string, want Prefix) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty %s id", want)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	if got := Prefix(tid.Prefix()); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return ID{tid: tid, ok: true}, nil
}

// AuditEventID names an audit trail event ("aevt").
type AuditEventID = ID

// RequestID correlates an HTTP request with its logs ("req").
type RequestID = ID

// NewAuditEventID mints an audit event id.
func NewAuditEventID() ID { return New(PrefixAuditEvent) }

// NewRequestID mints a request id.
func NewRequestID() ID { return New(PrefixRequest) }

// ParseRequestID accepts only "req_" TypeIDs.
func ParseRequestID(s string) (ID, error) { return Parse(s, PrefixRequest) }

func (i ID) String() string {
	if !i.ok {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.ok {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.ok }

// MarshalText lets audit events encode their id as a plain JSON string.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}
