package metrics

// Attribute keys shared by all instruments.
const (
	AttrMethod   = "method"
	AttrPath     = "path"
	AttrStatus   = "status"
	AttrProvider = "provider"
	AttrTrigger  = "trigger"
	AttrOutcome  = "outcome"
)
