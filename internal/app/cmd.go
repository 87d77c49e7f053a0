package app

import "fmt"

// Command はoauthgateのサブコマンド。
type Command string

const (
	// CommandServe はハンドシェイク付きHTTPサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れレコードを定期的に削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandPurge は期限切れレコードを1回だけ削除して終了する。cronからの実行用。
	CommandPurge Command = "purge"
	// CommandMigrate はスキーマを最新版まで適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中サーバーの/healthを確認する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandPurge):       CommandPurge,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なしはserve。未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return "", fmt.Errorf("unknown command %q (want serve, worker, purge, migrate or healthcheck)", args[0])
	}
	return cmd, nil
}
