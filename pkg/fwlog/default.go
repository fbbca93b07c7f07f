// Copyright 2025 The fawa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fwlog

import (
	"io"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// The package functions add one frame between the caller and zap.
var logger Logger = newZapLogger(os.Stderr, zap.NewAtomicLevelAt(zapcore.InfoLevel), 2)

// SetOutput sets the output of default logger. By default, it is stderr.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevel sets the level of logs below which logs will not be output.
// The default log level is LevelInfo.
func SetLevel(lv Level) {
	logger.SetLevel(lv)
}

// DefaultLogger return the default logger. Its caller annotation assumes
// it is reached through the package functions; code that logs directly
// should hold a logger from With instead.
func DefaultLogger() Logger {
	return logger
}

// SetLogger sets the default logger.
// Note that this method is not concurrent-safe and must not be called
// after the use of DefaultLogger and global functions in this package.
func SetLogger(v Logger) {
	logger = v
}

// With returns a child of the default logger carrying kv.
func With(kv ...any) Logger {
	return logger.With(kv...)
}

// Fatal calls the default logger's Fatal method and then os.Exit(1).
func Fatal(v ...any) {
	logger.Fatal(v...)
}

// Error calls the default logger's Error method.
func Error(v ...any) {
	logger.Error(v...)
}

// Warn calls the default logger's Warn method.
func Warn(v ...any) {
	logger.Warn(v...)
}

// Info calls the default logger's Info method.
func Info(v ...any) {
	logger.Info(v...)
}

// Debug calls the default logger's Debug method.
func Debug(v ...any) {
	logger.Debug(v...)
}

// Fatalf calls the default logger's Fatalf method and then os.Exit(1).
func Fatalf(format string, v ...any) {
	logger.Fatalf(format, v...)
}

// Errorf calls the default logger's Errorf method.
func Errorf(format string, v ...any) {
	logger.Errorf(format, v...)
}

// Warnf calls the default logger's Warnf method.
func Warnf(format string, v ...any) {
	logger.Warnf(format, v...)
}

// Infof calls the default logger's Infof method.
func Infof(format string, v ...any) {
	logger.Infof(format, v...)
}

// Debugf calls the default logger's Debugf method.
func Debugf(format string, v ...any) {
	logger.Debugf(format, v...)
}

type zapLogger struct {
	sugar atomic.Pointer[zap.SugaredLogger]
	level zap.AtomicLevel
	// skip is the number of frames between the logging call site and
	// the zapLogger method.
	skip int
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func newSugar(w io.Writer, level zap.AtomicLevel, skip int) *zap.SugaredLogger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(skip)).Sugar()
}

func newZapLogger(w io.Writer, level zap.AtomicLevel, skip int) *zapLogger {
	l := &zapLogger{level: level, skip: skip}
	l.sugar.Store(newSugar(w, level, skip))
	return l
}

func (l *zapLogger) SetLevel(lv Level) {
	l.level.SetLevel(lv.toZapLevel())
}

// SetOutput rebuilds the core on w. Children created by With before the
// call keep writing to the previous output, and a child that is itself
// redirected drops its With fields.
func (l *zapLogger) SetOutput(w io.Writer) {
	l.sugar.Store(newSugar(w, l.level, l.skip))
}

// With children are called directly, so they always unwind exactly one
// frame whatever their parent's skip was.
func (l *zapLogger) With(kv ...any) Logger {
	child := &zapLogger{level: l.level, skip: 1}
	child.sugar.Store(l.sugar.Load().WithOptions(zap.AddCallerSkip(1 - l.skip)).With(kv...))
	return child
}

func (l *zapLogger) Debugf(format string, v ...any) {
	l.sugar.Load().Debugf(format, v...)
}

func (l *zapLogger) Infof(format string, v ...any) {
	l.sugar.Load().Infof(format, v...)
}

func (l *zapLogger) Warnf(format string, v ...any) {
	l.sugar.Load().Warnf(format, v...)
}

func (l *zapLogger) Errorf(format string, v ...any) {
	l.sugar.Load().Errorf(format, v...)
}

func (l *zapLogger) Fatalf(format string, v ...any) {
	l.sugar.Load().Fatalf(format, v...)
}

func (l *zapLogger) Debug(v ...any) {
	l.sugar.Load().Debug(v...)
}

func (l *zapLogger) Info(v ...any) {
	l.sugar.Load().Info(v...)
}

func (l *zapLogger) Warn(v ...any) {
	l.sugar.Load().Warn(v...)
}

func (l *zapLogger) Error(v ...any) {
	l.sugar.Load().Error(v...)
}

func (l *zapLogger) Fatal(v ...any) {
	l.sugar.Load().Fatal(v...)
}
