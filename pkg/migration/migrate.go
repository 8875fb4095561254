// Package migration はSQLiteデータベースのスキーママイグレーションを管理する。
// embed.FSに埋め込まれたSQLファイルをバージョン昇順に適用し、
// 適用済みバージョンをschema_migrationsテーブルで追跡する。
package migration

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strconv"
	"strings"
)

// script は1つのマイグレーションSQLファイルを表す。
// ファイル名は「000001_create_updates.up.sql」の形式で、
// 先頭の数値がバージョン、続く部分が名前になる。
type script struct {
	// version はマイグレーションのバージョン番号。
	version int
	// name はマイグレーションの名前。
	name string
	// path はファイルシステム上のパス。
	path string
}

// Run はdir以下のマイグレーションSQLをバージョン昇順に適用する。
// 適用済みのバージョンはスキップされるため、起動のたびに呼び出せる。
func Run(db *sql.DB, fsys fs.FS, dir string) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	scripts, err := collectScripts(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	for _, sc := range scripts {
		if applied[sc.version] {
			continue
		}

		if err := apply(db, fsys, sc); err != nil {
			return fmt.Errorf("マイグレーション %06d_%s の適用に失敗: %w", sc.version, sc.name, err)
		}
		log.Printf("[Migration] %06d_%s を適用しました", sc.version, sc.name)
	}

	return nil
}

// Version は現在適用されているスキーマバージョンを返す。
// マイグレーションが一度も適用されていない場合は0を返す。
func Version(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("スキーマバージョンの取得に失敗: %w", err)
	}
	return version, nil
}

// ensureMigrationsTable は適用状態を追跡するテーブルを作成する。
func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
		)
	`)
	return err
}

// appliedVersions は適用済みのバージョン番号の集合を返す。
func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// collectScripts はdir以下の.up.sqlファイルを収集し、バージョン昇順に整列して返す。
// マイグレーション形式でないファイル名は無視する。
func collectScripts(fsys fs.FS, dir string) ([]script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var scripts []script
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		sc, ok := parseScriptName(entry.Name())
		if !ok {
			continue
		}
		sc.path = dir + "/" + entry.Name()
		scripts = append(scripts, sc)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].version < scripts[j].version
	})
	return scripts, nil
}

// parseScriptName はファイル名からバージョンと名前を取り出す。
// 「<数値>_<名前>.up.sql」の形式でないファイル名に対してはfalseを返す。
func parseScriptName(filename string) (script, bool) {
	base, ok := strings.CutSuffix(filename, ".up.sql")
	if !ok {
		return script{}, false
	}

	versionStr, name, ok := strings.Cut(base, "_")
	if !ok {
		return script{}, false
	}

	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return script{}, false
	}
	return script{version: version, name: name}, true
}

// apply は1つのマイグレーションをトランザクション内で実行し、バージョンを記録する。
func apply(db *sql.DB, fsys fs.FS, sc script) error {
	content, err := fs.ReadFile(fsys, sc.path)
	if err != nil {
		return fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("SQLの実行に失敗: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", sc.version, sc.name); err != nil {
		return fmt.Errorf("バージョンの記録に失敗: %w", err)
	}

	return tx.Commit()
}
