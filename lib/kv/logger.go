package kv

import (
	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Default Logger
// --------------------------------------------------------------------------

// plog is the package logger from the shared logger registry. Hosts that
// install their own logger factory (logger.SetLoggerFactory) also take
// over the engine's default output.
var plog = logger.GetLogger("kv")

// facadeLogger routes engine diagnostics to the registry logger. It is
// the Logger installed until SetLogger replaces it.
type facadeLogger struct{}

func (facadeLogger) Info(name, message string) {
	plog.Infof("%s: %s", name, message)
}

func (facadeLogger) Warning(name string, err error) {
	plog.Warningf("%s: %v", name, err)
}

func (facadeLogger) Error(name string, err error) {
	plog.Errorf("%s: %v", name, err)
}
