package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeUpdateCreated は新しい更新レコードが受理されたことを表す。
	TypeUpdateCreated Type = "UpdateCreated"
	// TypeUpdatePatched は既存の更新レコードのリリース情報が変更されたことを表す。
	TypeUpdatePatched Type = "UpdatePatched"
)

// Event はNotification Busを流れる不変のイベントレコードを表す。
// 更新レコードの永続化が成功した後にのみ生成され、接続中の購読者と
// Webhook転送先へ配信される。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// Type はイベントの種類。
	Type Type `json:"type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// UpdateData はUpdateCreated/UpdatePatchedイベントのデータ。
// 対象となる更新レコードの全体スナップショットを含む。
type UpdateData struct {
	// ID は更新レコードの一意識別子。
	ID int64 `json:"id"`
	// Commit は更新を一意に識別するコミットハッシュ。
	Commit string `json:"commit"`
	// Manifest はデプロイメントマニフェスト（JSON形式）。
	Manifest json.RawMessage `json:"manifest"`
	// Channel はリリースチャネル。未設定の場合は省略される。
	Channel string `json:"channel,omitempty"`
	// Tainted は汚染フラグ。
	Tainted bool `json:"tainted"`
	// CreatedAt はレコードの作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}
