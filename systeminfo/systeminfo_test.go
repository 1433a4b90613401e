package systeminfo

import (
	"runtime"
	"testing"

	"filewarden/logger"
)

func TestCollect(t *testing.T) {
	logger.Init("info")
	info := Collect()
	if info == nil {
		t.Fatal("Collect must always return a snapshot")
	}
	if info.OS != runtime.GOOS {
		t.Errorf("unexpected OS: %s", info.OS)
	}
	if info.CPUCount < 1 {
		t.Errorf("unexpected CPU count: %d", info.CPUCount)
	}
}
