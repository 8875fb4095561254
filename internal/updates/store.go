package updates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLiteドライバ
)

// ErrNotFound は指定されたコミットの更新レコードが存在しないことを表す。
var ErrNotFound = errors.New("更新レコードが見つかりません")

// UpdateRecord は受理された更新を表す永続化レコード。
type UpdateRecord struct {
	// ID は更新レコードの一意識別子。作成順に単調増加する正の整数。
	ID int64
	// Commit は更新を一意に識別するコミットハッシュ（冪等性キー）。
	Commit string
	// Manifest はデプロイメントマニフェスト（JSON形式）。内容は解釈されない。
	Manifest json.RawMessage
	// Channel はリリースチャネル。作成後のパッチでのみ設定され、未設定時は空文字列。
	Channel string
	// Tainted は汚染フラグ。作成後のパッチでのみ設定される。
	Tainted bool
	// CreatedAt はレコードの作成日時。
	CreatedAt time.Time
}

// UpdatePatch は既存の更新レコードに適用可能なフィールドの集合。
// nilのフィールドは変更されない。コミットハッシュとマニフェストは
// 作成後に変更できないため、ここには含まれない。
type UpdatePatch struct {
	// Channel は設定するリリースチャネル。
	Channel *string
	// Tainted は設定する汚染フラグ。
	Tainted *bool
}

// Store は更新レコードの永続化を担うストア。
// コミットハッシュのUNIQUE制約によって作成の冪等性を保証する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
}

// Open は指定されたパスのSQLiteデータベースを開く。
// WALモードとビジータイムアウトを設定し、SQLiteの単一ライター特性に
// 合わせて同時接続数を1に制限する。インメモリDBは接続ごとに独立した
// データベースになるため、この制限はテストの正しさにも必要になる。
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateIfAbsent はコミットハッシュをキーとして更新レコードを作成する。
// 同じコミットのレコードが既に存在する場合は何も書き込まず、既存レコードと
// falseを返す。存在チェックと挿入は単一のINSERT文で原子的に行われるため、
// 同一コミットの並行呼び出しでも作成が成功するのは一度だけであり、
// 既存のマニフェストが上書きされることはない。
func (s *Store) CreateIfAbsent(ctx context.Context, commit string, manifest json.RawMessage) (*UpdateRecord, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO updates (commit_hash, manifest) VALUES (?, ?) ON CONFLICT(commit_hash) DO NOTHING`,
		commit, string(manifest))
	if err != nil {
		return nil, false, fmt.Errorf("更新レコードの挿入に失敗: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("挿入結果の取得に失敗: %w", err)
	}

	rec, err := s.FindByCommit(ctx, commit)
	if err != nil {
		return nil, false, err
	}
	return rec, affected > 0, nil
}

// FindByCommit は指定されたコミットの更新レコードを取得する。
// レコードが存在しない場合はErrNotFoundを返す。
func (s *Store) FindByCommit(ctx context.Context, commit string) (*UpdateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, commit_hash, manifest, channel, tainted, created_at FROM updates WHERE commit_hash = ?`,
		commit)

	var rec UpdateRecord
	var manifest []byte
	var tainted int64
	err := row.Scan(&rec.ID, &rec.Commit, &manifest, &rec.Channel, &tainted, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("更新レコードの読み取りに失敗: %w", err)
	}

	rec.Manifest = json.RawMessage(manifest)
	rec.Tainted = tainted != 0
	return &rec, nil
}

// UpdateByCommit は指定されたコミットの更新レコードにパッチを適用し、
// 適用後のレコードを返す。patchのnilフィールドは変更されない。
// レコードが存在しない場合はErrNotFoundを返す。
func (s *Store) UpdateByCommit(ctx context.Context, commit string, patch UpdatePatch) (*UpdateRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE updates SET channel = COALESCE(?, channel), tainted = COALESCE(?, tainted) WHERE commit_hash = ?`,
		patch.Channel, patch.Tainted, commit)
	if err != nil {
		return nil, fmt.Errorf("更新レコードのパッチ適用に失敗: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("パッチ結果の取得に失敗: %w", err)
	}
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.FindByCommit(ctx, commit)
}

// List は全ての更新レコードをID昇順で返す。
func (s *Store) List(ctx context.Context) ([]UpdateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, commit_hash, manifest, channel, tainted, created_at FROM updates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("更新レコード一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []UpdateRecord
	for rows.Next() {
		var rec UpdateRecord
		var manifest []byte
		var tainted int64
		if err := rows.Scan(&rec.ID, &rec.Commit, &manifest, &rec.Channel, &tainted, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("更新レコードの読み取りに失敗: %w", err)
		}
		rec.Manifest = json.RawMessage(manifest)
		rec.Tainted = tainted != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count は保存されている更新レコードの総数を返す。
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM updates`).Scan(&count); err != nil {
		return 0, fmt.Errorf("更新レコード数の取得に失敗: %w", err)
	}
	return count, nil
}
