// Copyright 2025 The Kestrel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package log is the logging facade used throughout the client. Every call
// takes a context; tags attached via logtags.AddTag are rendered as a
// bracketed prefix so that concurrent request logs can be told apart.
//
// The backend is a process-wide zap logger. Embedders that already run zap
// can install their own logger with SetLogger.
package log

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/logtags"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger atomic.Pointer[zap.SugaredLogger]

func init() {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(err)
	}
	logger.Store(l.Sugar())
}

// SetLogger replaces the process-wide logger. Tests use this to capture or
// silence output. Safe for concurrent use with the logging functions.
func SetLogger(l *zap.Logger) {
	logger.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

func render(ctx context.Context, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if tags := logtags.FromContext(ctx); tags != nil {
		return "[" + tags.String() + "] " + msg
	}
	return msg
}

// Infof logs at info level, prefixed by the context's log tags.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Info(render(ctx, format, args...))
}

// Warningf logs at warning level, prefixed by the context's log tags.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Warn(render(ctx, format, args...))
}

// Errorf logs at error level, prefixed by the context's log tags.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Error(render(ctx, format, args...))
}

// Fatalf logs at fatal level and terminates the process.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logger.Load().Fatal(render(ctx, format, args...))
}
