package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LogLevel returns the log level selected by NEURALODE_DEBUG.
// A true value enables debug logs; an integer n selects level -4n.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("NEURALODE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// DataRoot returns NEURALODE_DATA, or fallback when it is unset.
func DataRoot(fallback string) string {
	if s := Var("NEURALODE_DATA"); s != "" {
		return s
	}
	return fallback
}

// Var returns an environment variable with surrounding quotes and spaces
// removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// NewLogger returns a text logger writing to stderr at LogLevel.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LogLevel()}))
}
