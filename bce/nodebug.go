//go:build !debug
// +build !debug

package bce

import (
	"log"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/nickng/bcelim/internal/logging"
)

// NewLogger returns a new logger with default options.
func NewLogger() *logging.Logger {
	color.NoColor = true
	l, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Cannot create new logger:", err)
	}
	return logging.New(l.Sugar(), "bce")
}

// NewFileLogger returns a new logger and also writes the log output to files.
func NewFileLogger(files ...string) *logging.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = append(cfg.OutputPaths, files...)
	l, err := cfg.Build()
	if err != nil {
		log.Fatal("Cannot create new logger:", err)
	}
	return logging.New(l.Sugar(), "bce")
}
