package t2sa

import (
	"os"
	"testing"

	"github.com/arloliu/go-t2sa/logger"
)

var testLogLevel = logger.InfoLevel

func TestMain(m *testing.M) {
	if level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		testLogLevel = level
	}

	os.Exit(m.Run())
}
