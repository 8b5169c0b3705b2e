package scraper

import (
	"errors"
	"fmt"
)

var ErrPaginationStalled = errors.New("pagination stalled")

// FatalError aborts a site run. Nothing is written for the run.
type FatalError struct {
	Site  string
	Stage string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Site, e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// DetailFetchError is recovered per candidate; the record keeps its listing fields.
type DetailFetchError struct {
	Identifier string
	Link       string
	Err        error
}

func (e *DetailFetchError) Error() string {
	return fmt.Sprintf("detail %q (%s): %v", e.Identifier, e.Link, e.Err)
}

func (e *DetailFetchError) Unwrap() error {
	return e.Err
}
