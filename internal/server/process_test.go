package server

import (
	"os"
	"os/signal"
	"testing"
	"time"
)

// helperEnv switches the test binary into a stand-in game server when it is
// started by a ProcessManager or by a test.
const helperEnv = "RCONBRIDGE_TEST_SERVER"

// helperReadyEnv names a file the stand-in creates once its signal setup is
// done.
const helperReadyEnv = "RCONBRIDGE_TEST_READY"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "exit":
		os.Exit(1)
	case "ignore-interrupt":
		signal.Ignore(os.Interrupt)
	}
	if path := os.Getenv(helperReadyEnv); path != "" {
		os.WriteFile(path, nil, 0644)
	}
	time.Sleep(time.Hour)
	os.Exit(0)
}
