package engine_test

import (
	"testing"

	"go.uber.org/goleak"
)

// fire-and-forget runs must not leak goroutines once Wait returned
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
