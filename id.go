package moira

import "github.com/hyunkyoun/moira/id"

// ID is the identifier type for all moira entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
