/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package log provides a context-scoped logrus entry, the way the rest of
// this codebase expects to call log.L(ctx).Infof(...) from anywhere without
// threading a logger through every function signature.
package log

import (
	"context"
	"io"
	"os"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey struct{}

var rootLogger = logrus.NewEntry(logrus.StandardLogger())

// Config mirrors the application.log.* configuration keys.
type Config struct {
	Format  string // "text" | "json"
	Console ConsoleConfig
	File    FileConfig
}

type ConsoleConfig struct {
	Enabled bool
}

type FileConfig struct {
	Enabled    bool
	Name       string
	MaxBytes   int
	BackupCount int
}

// Init configures the package-wide root logger. Call once at startup, after
// configuration has been loaded and before anything else touches log.L.
func Init(level string, cfg Config) {
	logger := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&prefixed.TextFormatter{
			FullTimestamp: true,
		})
	}

	var writers []io.Writer
	if cfg.Console.Enabled || (!cfg.Console.Enabled && !cfg.File.Enabled) {
		writers = append(writers, os.Stdout)
	}
	if cfg.File.Enabled && cfg.File.Name != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File.Name,
			MaxSize:    maxInt(cfg.File.MaxBytes/(1024*1024), 1),
			MaxBackups: cfg.File.BackupCount,
			Compress:   true,
		})
	}
	if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else if len(writers) > 1 {
		logger.SetOutput(io.MultiWriter(writers...))
	}

	rootLogger = logrus.NewEntry(logger)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// WithLogField returns a derived context carrying an additional structured
// field on every subsequent log.L(ctx) call.
func WithLogField(ctx context.Context, key, value string) context.Context {
	l := L(ctx).WithField(key, value)
	return context.WithValue(ctx, ctxKey{}, l)
}

// L returns the logger bound to ctx, or the process-wide root logger if none
// has been attached.
func L(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
			return l
		}
	}
	return rootLogger
}
