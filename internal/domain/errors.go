package domain

import "errors"

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownPage marks operations addressed to a page the sync core does
// not have live, or that does not exist in the store.
var ErrUnknownPage = errors.New("unknown page")
