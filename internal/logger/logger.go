// Package logger はJSON構造化ログの設定を提供する。
// パスワードやトークンの秘密値が誤ってログに出ないよう、既知のキーは値を伏せて出力する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted は伏せ字にした値の表記。
const Redacted = "[REDACTED]"

// sensitiveKeys は値を出力しない属性キー。グループ内のキーにも適用する。
var sensitiveKeys = map[string]bool{
	"password":      true,
	"password_hash": true,
	"secret":        true,
	"token":         true,
	"session_id":    true,
	"smtp_password": true,
	"body":          true,
}

// ParseLevel はLOG_LEVELの値をslog.Levelに変換する。
// 未設定または未知の値はInfoとする。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer, level slog.Level) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, level))
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}
