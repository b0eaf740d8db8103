package xerr

// Business error codes, one per error kind in the spec's error taxonomy.
// The HTTP status each maps to lives in response.go's statusForCode table.
const (
	CodeValidation          = "validation_error"
	CodeUnauthorized        = "unauthorized"
	CodeNotFound            = "not_found"
	CodeConflict            = "conflict"
	CodeRangeNotSatisfiable = "range_not_satisfiable"
	CodeInternal            = "internal"
	CodeUpstream            = "upstream"
)
