package slog_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	rawslog "log/slog"

	"github.com/filmindex/filmsync/pkg/logger"
	"github.com/filmindex/filmsync/pkg/logger/slog"
	"github.com/stretchr/testify/require"
)

type testMethod struct {
	fn    func(msg string, args ...any)
	level rawslog.Level
}

var (
	LogText         = "bulk chunk rejected"
	CustomFieldName = "index"
	CustomFieldVal  = "movies"
)

type testLogJSON struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Msg       string    `json:"msg"`
	CustomVal string    `json:"index"`
}

var _ logger.Logger = (*slog.SlogHandler)(nil)

func TestLogger(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})

	// debug, so every method is emitted
	handler := rawslog.NewJSONHandler(buffer, &rawslog.HandlerOptions{Level: rawslog.LevelDebug})
	log := slog.New(handler)

	testMethods := []testMethod{
		{fn: log.Error, level: rawslog.LevelError},
		{fn: log.Warn, level: rawslog.LevelWarn},
		{fn: log.Info, level: rawslog.LevelInfo},
		{fn: log.Debug, level: rawslog.LevelDebug},
	}

	for _, v := range testMethods {
		t.Run(fmt.Sprintf("testing %s", v.level.String()), func(t *testing.T) {
			buffer.Reset()
			checkMethod(t, v.fn, buffer, v.level.String())
		})
	}
}

func checkMethod(t *testing.T, loggerFunc func(msg string, args ...any), buffer *bytes.Buffer, levelStr string) {
	require.Equal(t, 0, buffer.Len())

	loggerFunc(LogText, CustomFieldName, CustomFieldVal)

	got := new(testLogJSON)
	require.NoError(t, json.Unmarshal(buffer.Bytes(), got))

	require.Equal(t, levelStr, got.Level)
	require.Equal(t, LogText, got.Msg)
	require.Equal(t, CustomFieldVal, got.CustomVal)
	require.False(t, got.Time.IsZero())
}

func TestWith(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{})
	log := slog.New(rawslog.NewJSONHandler(buffer, nil))

	cycle := log.With("cycle", "c-1")
	cycle.Info("batch sent", "index", "movies")
	log.Info("pipeline stopped")

	lines := bytes.Split(bytes.TrimSpace(buffer.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var scoped, plain map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &scoped))
	require.NoError(t, json.Unmarshal(lines[1], &plain))
	require.Equal(t, "c-1", scoped["cycle"])
	require.Equal(t, "movies", scoped["index"])
	require.NotContains(t, plain, "cycle")
}
