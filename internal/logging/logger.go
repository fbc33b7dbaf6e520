// Package logging provides the module-tagged logger shared by the analysis
// and transformation packages.
package logging

import (
	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Logger encapsulates a Logger and module which it belongs to.
// Use this through SetLogger() of the components.
type Logger struct {
	*zap.SugaredLogger
	module string
}

// LogSetter is implemented by every component that logs.
type LogSetter interface {
	SetLogger(*Logger)
}

// New wraps l, tagging every message with module.
func New(l *zap.SugaredLogger, module string) *Logger {
	return &Logger{SugaredLogger: l, module: module}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), module: "nop"}
}

// Module returns (stylised) module name.
func (l *Logger) Module() string {
	return l.module
}

// For returns a copy of l for a different module, the name is coloured with
// colour (e.g. color.GreenString).
func (l *Logger) For(colour func(string, ...interface{}) string, module string) *Logger {
	if l == nil {
		l = Nop()
	}
	return &Logger{SugaredLogger: l.SugaredLogger, module: colour(module)}
}

// Module colours, one per component.
var (
	Block     = color.GreenString
	Dom       = color.CyanString
	Loop      = color.BlueString
	Analysis  = color.MagentaString
	Transform = color.YellowString
	Pass      = color.RedString
	Interp    = color.WhiteString
)
