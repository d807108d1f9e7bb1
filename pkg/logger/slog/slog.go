// Package slog adapts a log/slog handler to the filmsync logger interface.
package slog

import (
	"log/slog"

	"github.com/filmindex/filmsync/pkg/logger"
)

var _ logger.Logger = (*SlogHandler)(nil)

type SlogHandler struct {
	logger *slog.Logger
}

func New(h slog.Handler) *SlogHandler {
	logger := slog.New(h)
	return &SlogHandler{logger: logger}
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}

// With scopes the handler, so a cycle id or an index name is rendered on
// every following line.
func (handler *SlogHandler) With(args ...any) logger.Logger {
	return &SlogHandler{logger: handler.logger.With(args...)}
}
