package broker

import (
	"testing"

	"github.com/robustmq/robustmq/pkg/config"
)

// TestMain ensures config.Init has run before any test in this package
// touches config.Get(), since Init is a process-wide once-only call and
// Go doesn't guarantee test execution order across files.
func TestMain(m *testing.M) {
	config.Init(testClusterConfig())
	m.Run()
}
