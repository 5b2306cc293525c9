// Package logging はslogベースの構造化ログを提供する
//
// グローバルロガーを一度だけ初期化し、パッケージ関数から利用する。
// 形式は text (開発用) と json (運用用) を切り替えられる。
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	logger *slog.Logger
	mu     sync.RWMutex
)

// ParseLevel はレベル名をslog.Levelに変換する
// 不明な値はinfoとして扱う
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init はグローバルロガーを初期化する
// format: "json" または "text"
func Init(level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

// InitWithWriter は出力先を指定してグローバルロガーを初期化する
func InitWithWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	logger = slog.New(handler)
	mu.Unlock()

	slog.SetDefault(logger)
}

// L はグローバルロガーを返す
func L() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		Init("info", "text")
		return L()
	}
	return l
}

// With は属性付きのロガーを返す
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Debug はdebugレベルで出力する
func Debug(msg string, args ...any) { L().Debug(msg, args...) }

// Info はinfoレベルで出力する
func Info(msg string, args ...any) { L().Info(msg, args...) }

// Warn はwarnレベルで出力する
func Warn(msg string, args ...any) { L().Warn(msg, args...) }

// Error はerrorレベルで出力する
func Error(msg string, args ...any) { L().Error(msg, args...) }
