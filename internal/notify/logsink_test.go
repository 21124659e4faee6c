package notify

import (
	"testing"

	"oisentry/internal/obs"
)

func TestLogSinkAlwaysReportsSuccess(t *testing.T) {
	s := NewLogSink(obs.GetLogger())
	if !s.SendMessage("chat1", "hello") {
		t.Fatal("LogSink should always report delivery success")
	}
}
