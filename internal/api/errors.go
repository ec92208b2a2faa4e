package api

import (
	"errors"
	"fmt"
)

// ErrAuthExpired signals a 401-class response. It is propagated to the
// session layer; the synchronization core never tries to recover from it.
var ErrAuthExpired = errors.New("api: authentication expired")

// FetchError is a non-auth HTTP failure. Callers leave their stores
// unchanged when they receive one.
type FetchError struct {
	Op     string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("api: %s failed with status %d", e.Op, e.Status)
}
