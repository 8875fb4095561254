package updates

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/updatehub/pkg/migration"
)

// migrationsFS は埋め込まれたマイグレーションSQLファイル群。
//
//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// initSchema はデータベーススキーマを最新バージョンまで適用する。
// 適用済みのマイグレーションはスキップされるため、起動のたびに
// 呼び出しても安全である。
func initSchema(db *sql.DB) error {
	if err := migration.Run(db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("マイグレーションの適用に失敗: %w", err)
	}
	return nil
}
