package subledger

import "github.com/xraph/subledger/id"

// ID is the TypeID used for audit events and request correlation.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
