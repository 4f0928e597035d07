package logging

import (
	log "github.com/sirupsen/logrus"
)

// LogFieldFormatter adds a set of default fields to every log entry before
// delegating to the wrapped formatter. Fields already present on the entry
// take precedence over the defaults.
type LogFieldFormatter struct {
	log.Fields
	log.Formatter
}

// Format adds the default fields to the entry and formats it
func (f *LogFieldFormatter) Format(entry *log.Entry) ([]byte, error) {
	for key, value := range f.Fields {
		if _, ok := entry.Data[key]; !ok {
			entry.Data[key] = value
		}
	}
	return f.Formatter.Format(entry)
}
