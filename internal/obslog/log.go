// File: internal/obslog/log.go
// Author: momentics <momentics@gmail.com>
//
// Structured logging init: a production/development zap.Logger chooser.

package obslog

import "go.uber.org/zap"

// New builds a zap.Logger: development config (console, debug level) when
// dev is true, production config (JSON, info level) otherwise.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
