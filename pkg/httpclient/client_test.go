package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	// Commit はテスト用のコミットハッシュフィールド。
	Commit string `json:"commit"`
	// ID はテスト用の識別子フィールド。
	ID int64 `json:"id"`
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8087")
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.baseURL != "http://localhost:8087" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8087")
		}
		if client.httpClient == nil {
			t.Fatal("httpClientがnil")
		}
	})

	t.Run("タイムアウトが30秒に設定されていること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8087")
		if client.httpClient.Timeout.Seconds() != 30 {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
	})
}

// TestPostJSON はPostJSON関数を検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にPOSTリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Path = r.URL.Path
			received.Body, _ = io.ReadAll(r.Body)
			received.Headers = r.Header

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "abc123", ID: 1})
		}))
		defer ts.Close()

		client := New(ts.URL)
		body := testPayload{Commit: "abc123", ID: 0}
		var result testPayload

		err := client.PostJSON(context.Background(), "/hooks/updates", body, &result)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		// リクエストの検証
		if received.Method != http.MethodPost {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodPost)
		}
		if received.Path != "/hooks/updates" {
			t.Errorf("Path = %q, want %q", received.Path, "/hooks/updates")
		}

		// リクエストボディの検証
		var sentBody testPayload
		if err := json.Unmarshal(received.Body, &sentBody); err != nil {
			t.Fatalf("リクエストボディのパースに失敗: %v", err)
		}
		if sentBody.Commit != "abc123" {
			t.Errorf("sent Commit = %q, want %q", sentBody.Commit, "abc123")
		}

		// Content-Typeヘッダーの検証
		if got := received.Headers.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}

		// レスポンスの検証
		if result.Commit != "abc123" {
			t.Errorf("result.Commit = %q, want %q", result.Commit, "abc123")
		}
		if result.ID != 1 {
			t.Errorf("result.ID = %d, want %d", result.ID, 1)
		}
	})

	t.Run("サーバーが400エラーを返した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad request"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		body := testPayload{Commit: "bad"}
		var result testPayload

		err := client.PostJSON(context.Background(), "/hooks/updates", body, &result)
		if err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("サーバーが500エラーを返した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal server error"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		body := testPayload{Commit: "error"}
		var result testPayload

		err := client.PostJSON(context.Background(), "/hooks/updates", body, &result)
		if err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("resultがnilの場合でもエラーにならないこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"status":"accepted"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		body := testPayload{Commit: "no-result"}

		err := client.PostJSON(context.Background(), "/hooks/updates", body, nil)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "ok"})
		}))
		defer ts.Close()

		client := New(ts.URL)
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // 即座にキャンセル

		body := testPayload{Commit: "cancelled"}
		var result testPayload

		err := client.PostJSON(ctx, "/hooks/updates", body, &result)
		if err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestGetJSON はGetJSON関数を検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("正常にGETリクエストを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var received testRequest
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			received.Method = r.Method
			received.Path = r.URL.Path
			received.Headers = r.Header

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "xyz789", ID: 42})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/hooks/status", &result)
		if err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		// リクエストの検証
		if received.Method != http.MethodGet {
			t.Errorf("Method = %q, want %q", received.Method, http.MethodGet)
		}
		if received.Path != "/hooks/status" {
			t.Errorf("Path = %q, want %q", received.Path, "/hooks/status")
		}

		// レスポンスの検証
		if result.Commit != "xyz789" {
			t.Errorf("result.Commit = %q, want %q", result.Commit, "xyz789")
		}
		if result.ID != 42 {
			t.Errorf("result.ID = %d, want %d", result.ID, 42)
		}
	})

	t.Run("GETリクエストにリクエストボディが含まれないこと", func(t *testing.T) {
		t.Parallel()

		var receivedBody []byte
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedBody, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "ok"})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/hooks/status", &result)
		if err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if len(receivedBody) != 0 {
			t.Errorf("GETリクエストにボディが含まれている: %q", string(receivedBody))
		}
	})

	t.Run("サーバーが404を返した場合にエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/hooks/nonexistent", &result)
		if err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{invalid json}`))
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/hooks/status", &result)
		if err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		// 存在しないサーバーに接続を試みる
		client := New("http://127.0.0.1:1")
		var result testPayload

		err := client.GetJSON(context.Background(), "/hooks/status", &result)
		if err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestWithRequestID はWithRequestID関数を検証する。
func TestWithRequestID(t *testing.T) {
	t.Parallel()

	t.Run("コンテキストにリクエストIDを設定して伝播できること", func(t *testing.T) {
		t.Parallel()

		var receivedRequestID string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedRequestID = r.Header.Get("X-Request-ID")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "ok"})
		}))
		defer ts.Close()

		client := New(ts.URL)
		ctx := WithRequestID(context.Background(), "event-id-123")
		body := testPayload{Commit: "abc123"}

		err := client.PostJSON(ctx, "/hooks/updates", body, nil)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if receivedRequestID != "event-id-123" {
			t.Errorf("X-Request-ID = %q, want %q", receivedRequestID, "event-id-123")
		}
	})

	t.Run("WithRequestIDが設定されていない場合X-Request-IDヘッダーが空であること", func(t *testing.T) {
		t.Parallel()

		var receivedRequestID string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedRequestID = r.Header.Get("X-Request-ID")
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "ok"})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.GetJSON(context.Background(), "/hooks/status", &result)
		if err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}

		if receivedRequestID != "" {
			t.Errorf("X-Request-ID = %q, want empty string", receivedRequestID)
		}
	})
}

// TestRetryOnTransportError は接続レベルの失敗に対するリトライを検証する。
func TestRetryOnTransportError(t *testing.T) {
	t.Parallel()

	t.Run("切断された接続がリトライされ2回目の試行で成功すること", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if attempts.Add(1) == 1 {
				// 1回目は応答を書かずに接続を切断し、転送エラーを発生させる
				hj, ok := w.(http.Hijacker)
				if !ok {
					t.Error("http.Hijackerがサポートされていない")
					return
				}
				conn, _, err := hj.Hijack()
				if err != nil {
					t.Errorf("接続のハイジャックに失敗: %v", err)
					return
				}
				conn.Close()
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Commit: "retried", ID: 2})
		}))
		defer ts.Close()

		client := New(ts.URL)
		var result testPayload

		err := client.PostJSON(context.Background(), "/hooks/updates", testPayload{Commit: "abc123"}, &result)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if got := attempts.Load(); got != 2 {
			t.Errorf("試行回数 = %d, want 2", got)
		}
		if result.Commit != "retried" {
			t.Errorf("result.Commit = %q, want %q", result.Commit, "retried")
		}
	})

	t.Run("HTTPステータスエラーはリトライされないこと", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			attempts.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer ts.Close()

		client := New(ts.URL)

		err := client.PostJSON(context.Background(), "/hooks/updates", testPayload{Commit: "abc123"}, nil)
		if err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
		if got := attempts.Load(); got != 1 {
			t.Errorf("試行回数 = %d, want 1", got)
		}
	})
}

// TestPostJSON_SerializationError はシリアライズ不可能なボディでエラーが返ることを検証する。
func TestPostJSON_SerializationError(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(testPayload{Commit: "ok"})
	}))
	defer ts.Close()

	client := New(ts.URL)
	// json.Marshalでエラーになるチャネル型を渡す
	body := make(chan int)
	var result testPayload

	err := client.PostJSON(context.Background(), "/hooks/updates", body, &result)
	if err == nil {
		t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
	}
}
