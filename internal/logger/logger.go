// Package logger はoauthgateのJSON構造化ログを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Redacted は秘匿属性の値を置き換える文字列。
const Redacted = "[REDACTED]"

// secretKeys は値をログに残さない属性キー。認可コードやトークンが誤って渡されても出力しない。
var secretKeys = map[string]struct{}{
	"access_token":  {},
	"app_secret":    {},
	"client_secret": {},
	"code":          {},
	"session_id":    {},
}

// Setup はJSONハンドラーのロガーを生成する。verboseの場合はDebugレベルまで出力する。
func Setup(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSecrets,
	}))
}

// SetupDefault はSetupのロガーをslogのデフォルトに設定して返す。wがnilの場合はos.Stdout。
func SetupDefault(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := Setup(w, verbose)
	slog.SetDefault(l)
	return l
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if _, ok := secretKeys[strings.ToLower(a.Key)]; ok {
		return slog.String(a.Key, Redacted)
	}
	return a
}
