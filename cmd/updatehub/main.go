// 更新取り込み・通知サービスのエントリポイント。
// CI/CDパイプラインからの更新を冪等に受理し、永続化と同期して
// 購読者への通知とWebhook転送を行う。
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/updatehub/internal/updates"
)

func main() {
	// .envファイルがあれば読み込む。無い場合は環境変数をそのまま使う
	_ = godotenv.Load()

	cfg := updates.ConfigFromEnv()
	server, err := updates.NewServer(cfg)
	if err != nil {
		log.Fatalf("updatehubサーバーの初期化に失敗: %v", err)
	}

	log.Printf("updatehubサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("updatehubサービスの起動に失敗: %v", err)
	}
}
