package drinks

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/nao1215/coffeehub/pkg/migration"
)

// migrationsFS はembedされたマイグレーションSQLファイル。
//
//go:embed migrations/*.up.sql
var migrationsFS embed.FS

// initSchema はSQLiteデータベースにマイグレーションを適用する。
func initSchema(db *sql.DB) error {
	if err := migration.Run(db, migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return nil
}
