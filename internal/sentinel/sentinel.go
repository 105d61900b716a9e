package sentinel

var _ error = Error("")

// Error is an immutable error type backed by a string constant.
//
// Error is comparable, so the == comparison performed by errors.Is matches
// a constant through any number of %w wraps or errors.Join aggregations.
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}
