package logging

import (
	"log/slog"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"
	AUDIT  LogCode = "AUDIT"

	// SHARING GRAPH OPERATIONS (SHARE*)
	SHARE_CREATE LogCode = "SHARE_CREATE"
	SHARE_ACCEPT LogCode = "SHARE_ACCEPT"
	SHARE_REVOKE LogCode = "SHARE_REVOKE"
	SHARE_LINK   LogCode = "SHARE_LINK"

	// RESOLUTION (RESOLVE*)
	RESOLVE_ANOMALY LogCode = "RESOLVE_ANOMALY"

	// MATCH OPERATIONS (MATCH*)
	MATCH_CREATE LogCode = "MATCH_CREATE"
	MATCH_FINISH LogCode = "MATCH_FINISH"

	// STATISTICS (STATS*)
	STATS_QUERY LogCode = "STATS_QUERY"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}
