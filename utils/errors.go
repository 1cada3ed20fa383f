package utils

import (
	"github.com/pkg/errors"
)

// NewSideError is used when a wheel side index is not left, right or both.
func NewSideError(side interface{}) error {
	return errors.Errorf("unknown wheel side %v", side)
}
