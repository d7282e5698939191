package loyalty

import "github.com/xraph/loyalty/types"

// Re-export common types for convenience so users don't have to import types package.

// Points is re-exported from types package.
type Points = types.Points

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Points constructors
var (
	P         = types.P
	SumPoints = types.SumPoints
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
