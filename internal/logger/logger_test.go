package logger

import (
	"testing"

	"wowmarket/internal/config"
)

func TestNew_FallsBackOnUnknownLevelAndEncoding(t *testing.T) {
	log, err := New(config.LogConfig{Level: "loud", Encoding: "xml"}, "test")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if log == nil {
		t.Fatalf("logger is nil")
	}
	if !log.Core().Enabled(0) {
		t.Fatalf("info level should be enabled")
	}
}
