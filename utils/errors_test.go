package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestNewSideError(t *testing.T) {
	test.That(t, NewSideError(3).Error(), test.ShouldEqual, "unknown wheel side 3")
	test.That(t, NewSideError("middle").Error(), test.ShouldEqual, "unknown wheel side middle")
}
