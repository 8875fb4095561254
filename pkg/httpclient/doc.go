// Package httpclient は外部システムへのHTTP通信を行うクライアントを提供する。
//
// Notifierが作成イベントをCI/CDパイプラインやチャットボット等の
// Webhookへ転送する際に使用する。接続エラーはバックオフ付きで
// リトライし、X-Request-IDヘッダーで転送先が再送を識別できるようにする。
package httpclient
