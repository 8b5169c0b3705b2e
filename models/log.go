package models

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel maps a config string to a level. Unknown values mean info.
func ParseLogLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LogLevelWarn, LogLevelError:
		return LogLevel(s)
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) rank() int {
	switch l {
	case LogLevelWarn:
		return 1
	case LogLevelError:
		return 2
	default:
		return 0
	}
}

func (l LogLevel) AtLeast(min LogLevel) bool {
	return l.rank() >= min.rank()
}

type ScrapeLog struct {
	ID        int64     `json:"id" db:"id"`
	RunID     *int64    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	SiteID    string    `json:"site_id" db:"site_id"`
}
