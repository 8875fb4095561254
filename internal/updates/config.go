package updates

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config はupdatehubサーバーの実行時設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DBPath はSQLiteデータベースファイルのパス。
	DBPath string
	// IngestSecret は取り込みAPIの認証に使用する事前共有シークレット。
	IngestSecret string
	// JWTSecret は購読者トークンの署名に使用するシークレット。
	JWTSecret string
	// DuplicateStatus は重複コミット検出時に返すHTTPステータスコード。
	// 304（Not Modified）または409（Conflict）のいずれか。
	DuplicateStatus int
	// PublishOnPatch はパッチ成功時にもイベントを発行するかどうか。
	PublishOnPatch bool
	// WebhookURLs はイベントの転送先WebhookのURL一覧。
	// 空の場合、Webhook転送は行われない。
	WebhookURLs []string
	// AllowedOrigins はCORSで許可するオリジン一覧。
	// 空の場合、CORSミドルウェアは適用されない。
	AllowedOrigins []string
}

// ConfigFromEnv は環境変数からConfigを構築する。
// 未設定の環境変数には開発用のデフォルト値を使用する。
func ConfigFromEnv() Config {
	cfg := Config{
		Port:            getEnvOr("PORT", "8087"),
		DBPath:          getEnvOr("UPDATEHUB_DB_PATH", "/data/updatehub.db"),
		IngestSecret:    getEnvOr("UPDATEHUB_INGEST_SECRET", "dev-ingest-secret"),
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		DuplicateStatus: http.StatusNotModified,
	}

	if v := os.Getenv("UPDATEHUB_DUPLICATE_STATUS"); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil || (status != http.StatusNotModified && status != http.StatusConflict) {
			log.Printf("UPDATEHUB_DUPLICATE_STATUS=%q は304または409ではないため、304を使用します", v)
		} else {
			cfg.DuplicateStatus = status
		}
	}

	if v := os.Getenv("UPDATEHUB_PUBLISH_ON_PATCH"); v != "" {
		publish, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("UPDATEHUB_PUBLISH_ON_PATCH=%q を解釈できないため、falseを使用します", v)
		} else {
			cfg.PublishOnPatch = publish
		}
	}

	cfg.WebhookURLs = splitAndTrim(os.Getenv("UPDATEHUB_WEBHOOK_URLS"))
	cfg.AllowedOrigins = splitAndTrim(os.Getenv("UPDATEHUB_ALLOWED_ORIGINS"))

	return cfg
}

// getEnvOr は環境変数の値を取得する。未設定の場合はfallbackを返す。
func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitAndTrim はカンマ区切りの文字列を分割し、空要素を除いて返す。
func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
