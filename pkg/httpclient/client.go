package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// maxAttempts は接続エラー時の最大試行回数。
	maxAttempts = 3
	// retryBackoff はリトライ前の待機時間。試行回数に比例して延長される。
	retryBackoff = 100 * time.Millisecond
	// maxErrorBody はエラーレスポンスのボディをエラーメッセージに含める上限バイト数。
	maxErrorBody = 4 << 10
)

// Client はWebhook転送先への通信に使用するHTTPクライアント。
// 接続エラーはバックオフ付きでリトライする。HTTPステータスによる
// エラーは転送先の判断とみなし、リトライしない。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は転送先のベースURL。
	baseURL string
}

// New は新しいHTTPクライアントを生成する。
// baseURLには転送先のベースURL（例: "https://ci.example.com/hooks"）を指定する。
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
	}

	resp, err := c.send(ctx, method, c.baseURL+path, jsonBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("HTTPエラー: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// send は接続エラーに対してバックオフ付きでリトライしながらリクエストを送信する。
// 再送された配送は転送先がX-Request-IDヘッダーで識別できる。
func (c *Client) send(ctx context.Context, method, url string, jsonBody []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		// コンテキストからリクエストIDを伝播する
		if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
			req.Header.Set("X-Request-ID", requestID)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", lastErr)
		case <-time.After(retryBackoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("HTTPリクエストの送信に失敗（%d回試行）: %w", maxAttempts, lastErr)
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// Webhook転送先が配送とイベントを突き合わせられるように、
// NotifierがイベントIDをリクエストIDとして伝播するために使用する。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}
