package updates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/updatehub/pkg/event"
	"github.com/nao1215/updatehub/pkg/middleware"
	"github.com/nao1215/updatehub/pkg/migration"
)

// heartbeatInterval はSSEストリームのキープアライブ送信間隔。
const heartbeatInterval = 25 * time.Second

// Server はupdatehubサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの実行時設定。
	cfg Config
	// store は更新レコードの永続化ストア。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// bus は作成イベントを購読者へ配信するNotification Bus。
	bus *Bus
	// notifier はイベントをWebhookへ転送するバックグラウンドプロセス。
	// 転送先が設定されていない場合はnil。
	notifier *Notifier
}

// NewServer は新しいupdatehubサーバーを生成する。
// SQLiteデータベースを開いてマイグレーションを適用し、Webhook転送先が
// 設定されている場合はNotifierを起動する。
func NewServer(cfg Config) (*Server, error) {
	db, err := Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("スキーマの初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(middleware.CORS(cfg.AllowedOrigins))
	}

	s := &Server{
		router: router,
		cfg:    cfg,
		store:  NewStore(db),
		db:     db,
		bus:    NewBus(),
	}

	if len(cfg.WebhookURLs) > 0 {
		s.notifier = NewNotifier(s.bus, cfg.WebhookURLs)
		s.notifier.Start(context.Background())
	}

	s.setupRoutes()
	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.cfg.Port))
}

// Close はサーバーが保持するリソースを解放する。
func (s *Server) Close() error {
	if s.notifier != nil {
		s.notifier.Stop()
	}
	s.bus.Close()
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")

	// 取り込みAPI（事前共有シークレット認証）
	ingest := api.Group("")
	ingest.Use(middleware.SecretAuth(s.cfg.IngestSecret))
	{
		updates := ingest.Group("/updates")
		{
			// 更新の登録（コミット単位で冪等）
			updates.POST("", s.handleCreate())
			// リリースチャネルと汚染フラグの変更
			updates.PATCH("", s.handlePatch())
			// 更新一覧の取得
			updates.GET("", s.handleList())
			// 統計情報の取得
			updates.GET("/stats", s.handleStats())
			// コミットハッシュ指定での更新取得
			updates.GET("/:commit", s.handleGetByCommit())
		}

		// 購読者トークンの発行
		ingest.POST("/auth/token", s.handleAuthToken())
	}

	// リアルタイム購読API（JWT認証）
	api.GET("/updates/subscribe", middleware.SubscriberAuth(s.cfg.JWTSecret), s.handleSubscribe())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "updatehub"})
	})
}

// createUpdateRequest は更新登録リクエストのJSON構造。
type createUpdateRequest struct {
	// Commit は更新を一意に識別するコミットハッシュ。
	Commit string `json:"commit" binding:"required"`
	// Manifest はデプロイメントマニフェスト（JSON形式、内容は解釈しない）。
	Manifest json.RawMessage `json:"manifest" binding:"required"`
}

// patchUpdateRequest は更新パッチリクエストのJSON構造。
// 変更可能なフィールドはチャネルと汚染フラグのみ。
type patchUpdateRequest struct {
	// Commit は対象の更新レコードを指定するコミットハッシュ。
	Commit string `json:"commit" binding:"required"`
	// Channel は設定するリリースチャネル。省略時は変更しない。
	Channel *string `json:"channel"`
	// Tainted は設定する汚染フラグ。省略時は変更しない。
	Tainted *bool `json:"tainted"`
}

// authTokenRequest は購読者トークン発行リクエストのJSON構造。
type authTokenRequest struct {
	// Client は購読クライアントの識別名。省略時は自動生成される。
	Client string `json:"client"`
}

// updateResponse は更新レコードのJSONレスポンス構造。
type updateResponse struct {
	// ID は更新レコードの一意識別子。
	ID int64 `json:"id"`
	// Commit は更新を一意に識別するコミットハッシュ。
	Commit string `json:"commit"`
	// Manifest はデプロイメントマニフェスト。
	Manifest json.RawMessage `json:"manifest"`
	// Channel はリリースチャネル。未設定の場合は省略される。
	Channel string `json:"channel,omitempty"`
	// Tainted は汚染フラグ。
	Tainted bool `json:"tainted"`
	// CreatedAt はレコードの作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// toUpdateResponse はストアのレコードをJSONレスポンスに変換する。
func toUpdateResponse(rec UpdateRecord) updateResponse {
	return updateResponse{
		ID:        rec.ID,
		Commit:    rec.Commit,
		Manifest:  rec.Manifest,
		Channel:   rec.Channel,
		Tainted:   rec.Tainted,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

// toEventData は更新レコードをイベントデータに変換する。
func toEventData(rec *UpdateRecord) event.UpdateData {
	return event.UpdateData{
		ID:        rec.ID,
		Commit:    rec.Commit,
		Manifest:  rec.Manifest,
		Channel:   rec.Channel,
		Tainted:   rec.Tainted,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}
}

// publish は更新レコードをイベントとしてNotification Busに発行する。
// 発行はレスポンス送信より前に行われるため、この関数から戻った時点で
// 接続中の全購読者のバッファにイベントが積まれている。
func (s *Server) publish(eventType event.Type, rec *UpdateRecord) {
	ev, err := event.New(eventType, toEventData(rec))
	if err != nil {
		log.Printf("イベントの生成に失敗: %v", err)
		return
	}
	s.bus.Publish(*ev)
}

// handleCreate は更新登録を処理するハンドラを返す。
// コミットハッシュをキーとして冪等に動作し、新規作成の場合のみ
// UpdateCreatedイベントを発行して201を返す。重複コミットの場合は
// 何も書き込まず、イベントも発行せず、設定されたステータスコードを返す。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if len(req.Manifest) == 0 || string(req.Manifest) == "null" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "manifestにはnull以外のJSONドキュメントを指定してください"})
			return
		}

		rec, created, err := s.store.CreateIfAbsent(c.Request.Context(), req.Commit, req.Manifest)
		if err != nil {
			log.Printf("更新レコードの作成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新レコードの作成に失敗しました"})
			return
		}

		if !created {
			if s.cfg.DuplicateStatus == http.StatusNotModified {
				// 304はレスポンスボディを持てない
				c.Status(http.StatusNotModified)
				return
			}
			c.JSON(s.cfg.DuplicateStatus, gin.H{
				"error": "同じコミットの更新が既に登録されています",
				"id":    rec.ID,
			})
			return
		}

		s.publish(event.TypeUpdateCreated, rec)
		c.JSON(http.StatusCreated, gin.H{"id": rec.ID})
	}
}

// handlePatch は更新パッチを処理するハンドラを返す。
// コミットハッシュで対象を特定し、チャネルと汚染フラグのみを変更する。
// リクエストに含まれる他のフィールドは無視される。
func (s *Server) handlePatch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req patchUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		rec, err := s.store.UpdateByCommit(c.Request.Context(), req.Commit, UpdatePatch{
			Channel: req.Channel,
			Tainted: req.Tainted,
		})
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "指定されたコミットの更新レコードが見つかりません"})
			return
		}
		if err != nil {
			log.Printf("更新レコードのパッチ適用に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新レコードのパッチ適用に失敗しました"})
			return
		}

		if s.cfg.PublishOnPatch {
			s.publish(event.TypeUpdatePatched, rec)
		}
		c.JSON(http.StatusOK, toUpdateResponse(*rec))
	}
}

// handleList は更新一覧の取得を処理するハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.store.List(c.Request.Context())
		if err != nil {
			log.Printf("更新一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新一覧の取得に失敗しました"})
			return
		}

		responses := make([]updateResponse, 0, len(records))
		for _, rec := range records {
			responses = append(responses, toUpdateResponse(rec))
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleGetByCommit はコミットハッシュ指定での更新取得を処理するハンドラを返す。
func (s *Server) handleGetByCommit() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.store.FindByCommit(c.Request.Context(), c.Param("commit"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "指定されたコミットの更新レコードが見つかりません"})
			return
		}
		if err != nil {
			log.Printf("更新レコードの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新レコードの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, toUpdateResponse(*rec))
	}
}

// handleStats は統計情報の取得を処理するハンドラを返す。
func (s *Server) handleStats() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := s.store.Count(c.Request.Context())
		if err != nil {
			log.Printf("統計情報の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計情報の取得に失敗しました"})
			return
		}

		version, err := migration.Version(s.db)
		if err != nil {
			log.Printf("スキーマバージョンの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "統計情報の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"updates":        count,
			"subscribers":    s.bus.Len(),
			"schema_version": version,
		})
	}
}

// handleAuthToken は購読者トークンの発行を処理するハンドラを返す。
// EventSource等のSSEクライアントはAuthorizationヘッダーを設定できないため、
// 事前共有シークレットで認証した上でこのエンドポイントからトークンを取得し、
// 購読時にクエリパラメータとして渡す。
func (s *Server) handleAuthToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req authTokenRequest
		// リクエストボディは省略可能
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}

		client := req.Client
		if client == "" {
			client = uuid.New().String()
		}

		token, err := middleware.GenerateSubscriberToken(s.cfg.JWTSecret, client)
		if err != nil {
			log.Printf("購読者トークンの生成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "client": client})
	}
}

// eventName はイベント種別をSSEのイベント名に変換する。
func eventName(t event.Type) string {
	switch t {
	case event.TypeUpdateCreated:
		return "created"
	case event.TypeUpdatePatched:
		return "patched"
	default:
		return string(t)
	}
}

// handleSubscribe は更新イベントをServer-Sent Eventsとして配信するハンドラを返す。
// 接続確立時にreadyイベントを送信した後、購読開始以降に発行された
// イベントのみを配信する。過去イベントの再送は行わない。
func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := s.bus.Subscribe()
		defer sub.Close()

		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Header().Set("X-Accel-Buffering", "no")

		// 接続確立を購読者に通知する。このイベントを受信した時点で、
		// 以降の作成イベントの配信が保証される。
		c.SSEvent("ready", gin.H{"subscription_id": sub.ID})
		c.Writer.Flush()

		log.Printf("購読を開始しました: subscription_id=%s, client=%s", sub.ID, middleware.GetClient(c))

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		c.Stream(func(_ io.Writer) bool {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return false
				}
				c.SSEvent(eventName(ev.Type), ev.Data)
				return true
			case <-ticker.C:
				// プロキシによるアイドル切断を防ぐキープアライブ
				c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})

		log.Printf("購読を終了しました: subscription_id=%s", sub.ID)
	}
}
