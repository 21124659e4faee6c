package notify

import "oisentry/internal/obs"

// LogSink is a ChatSink that logs the rendered message instead of calling a
// real chat API. The chat protocol is an external collaborator; this sink
// lets the engine run standalone until a real one is wired.
type LogSink struct {
	log *obs.Log
}

// NewLogSink builds a LogSink.
func NewLogSink(log *obs.Log) *LogSink { return &LogSink{log: log} }

func (s *LogSink) SendMessage(chatID, text string) bool {
	s.log.WithComponent("chat_sink").WithFields(obs.Fields{"chat_id": chatID}).Info(text)
	return true
}
