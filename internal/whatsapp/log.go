package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// SlogAdapter routes whatsmeow's logger through slog.
type SlogAdapter struct {
	logger *slog.Logger
	module string
}

var _ waLog.Logger = SlogAdapter{}

func NewSlogAdapter(logger *slog.Logger, module string) SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return SlogAdapter{logger: logger, module: module}
}

func (a SlogAdapter) Errorf(msg string, args ...any) {
	a.logger.Error(fmt.Sprintf(msg, args...), "module", a.module)
}

func (a SlogAdapter) Warnf(msg string, args ...any) {
	a.logger.Warn(fmt.Sprintf(msg, args...), "module", a.module)
}

func (a SlogAdapter) Infof(msg string, args ...any) {
	a.logger.Info(fmt.Sprintf(msg, args...), "module", a.module)
}

func (a SlogAdapter) Debugf(msg string, args ...any) {
	a.logger.Debug(fmt.Sprintf(msg, args...), "module", a.module)
}

func (a SlogAdapter) Sub(module string) waLog.Logger {
	if a.module != "" {
		module = a.module + "/" + module
	}
	return SlogAdapter{logger: a.logger, module: module}
}
