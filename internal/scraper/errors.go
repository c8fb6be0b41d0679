package scraper

import "fmt"

// ParseSkipped reports one store item that could not be turned into a record.
type ParseSkipped struct {
	Store  string
	SKU    string
	Reason string
	Err    error
}

func (e *ParseSkipped) Error() string {
	if e.SKU == "" {
		return fmt.Sprintf("%s: skipped item: %s", e.Store, e.Reason)
	}
	return fmt.Sprintf("%s: skipped item %s: %s", e.Store, e.SKU, e.Reason)
}

func (e *ParseSkipped) Unwrap() error { return e.Err }

// PriceFormatError is returned for price text that is empty, not a number,
// not positive, or ambiguous about its decimal separator.
type PriceFormatError struct {
	Input  string
	Reason string
}

func (e *PriceFormatError) Error() string {
	return fmt.Sprintf("price %q: %s", e.Input, e.Reason)
}
