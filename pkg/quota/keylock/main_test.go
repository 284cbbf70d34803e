package keylock

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no goroutines are left waiting on a lock.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
