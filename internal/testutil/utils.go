package testutil

import (
	"io"
	"log"
	"os"
	"testing"
)

// TestLogger logs to stdout under the test's name. Background goroutines
// that outlive the test are silenced at cleanup.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(io.Discard)
	})
	return logger
}
