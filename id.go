package loyalty

import "github.com/xraph/loyalty/id"

// ID is the primary identifier type for all Loyalty entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
