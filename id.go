package infinitic

import "github.com/alpex29/infinitic/id"

// ID identifies entities, attempts and messages. See package id.
type (
	ID     = id.ID
	Prefix = id.Prefix
)
