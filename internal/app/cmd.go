package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は購読ゲートウェイを起動することを示す。
	CommandServe Command = "serve"
	// CommandImport は旧パネルのエクスポートを新パネルへ移行することを示す。
	CommandImport Command = "import"
	// CommandExceptions は例外集合ファイルを生成することを示す。
	// 移行前に明示的に1回だけ実行する。
	CommandExceptions Command = "exceptions"
	// CommandMigrate は認証情報ストアのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandRefreshToken は管理者トークンを1回だけ更新することを示す。
	CommandRefreshToken Command = "refresh-token"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandImport, CommandExceptions, CommandMigrate, CommandRefreshToken, CommandHealthcheck:
		return Command(args[0])
	default:
		return CommandServe
	}
}
