// Package updates は更新取り込み・通知サービスの内部実装を提供する。
//
// CI/CDパイプラインが公開した更新をコミットハッシュ単位で冪等に受理し、
// SQLiteに永続化する。永続化が成功した場合のみ、接続中の購読者と
// Webhook転送先へ作成イベントを配信する。永続化とイベント配信は
// 同一リクエストの中で完結し、レスポンスが返った時点で配信まで
// 完了していることを保証する。
package updates
