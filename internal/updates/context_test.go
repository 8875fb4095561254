package updates

import (
	"context"
	"testing"
)

// testContext はテスト終了時にキャンセルされるコンテキストを返すヘルパー関数。
// testing.T.ContextはGo 1.24以降でのみ利用できるため、その代替として使用する。
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
