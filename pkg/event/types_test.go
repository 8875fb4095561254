package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// TestTypeConstants はType定数の値を検証する。
func TestTypeConstants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  Type
		want string
	}{
		{
			name: "TypeUpdateCreatedの値が正しいこと",
			got:  TypeUpdateCreated,
			want: "UpdateCreated",
		},
		{
			name: "TypeUpdatePatchedの値が正しいこと",
			got:  TypeUpdatePatched,
			want: "UpdatePatched",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if string(tt.got) != tt.want {
				t.Errorf("Type = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

// TestEventJSONSerialization はEvent構造体のJSONシリアライズ/デシリアライズを検証する。
func TestEventJSONSerialization(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	original := Event{
		ID:        "test-id-123",
		Type:      TypeUpdateCreated,
		Data:      json.RawMessage(`{"id":1,"commit":"abc123"}`),
		CreatedAt: now,
	}

	t.Run("Event構造体をJSONにシリアライズして復元できること", func(t *testing.T) {
		t.Parallel()

		jsonBytes, err := json.Marshal(original)
		if err != nil {
			t.Fatalf("json.Marshal()でエラーが発生: %v", err)
		}

		var decoded Event
		if err := json.Unmarshal(jsonBytes, &decoded); err != nil {
			t.Fatalf("json.Unmarshal()でエラーが発生: %v", err)
		}

		if decoded.ID != original.ID {
			t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
		}
		if decoded.Type != original.Type {
			t.Errorf("Type = %q, want %q", decoded.Type, original.Type)
		}
		if string(decoded.Data) != string(original.Data) {
			t.Errorf("Data = %s, want %s", decoded.Data, original.Data)
		}
		if !decoded.CreatedAt.Equal(original.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, original.CreatedAt)
		}
	})
}

// TestUpdateDataJSON はUpdateDataのJSONフィールド名とチャネル省略の挙動を検証する。
func TestUpdateDataJSON(t *testing.T) {
	t.Parallel()

	t.Run("全フィールドが正しいJSONキーで出力されること", func(t *testing.T) {
		t.Parallel()

		data := UpdateData{
			ID:        42,
			Commit:    "abc123",
			Manifest:  json.RawMessage(`{"version":"1.2.3"}`),
			Channel:   "stable",
			Tainted:   true,
			CreatedAt: "2025-06-01T10:30:00Z",
		}

		jsonBytes, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("json.Marshal()でエラーが発生: %v", err)
		}

		var decoded map[string]any
		if err := json.Unmarshal(jsonBytes, &decoded); err != nil {
			t.Fatalf("json.Unmarshal()でエラーが発生: %v", err)
		}

		if decoded["id"] != float64(42) {
			t.Errorf("id = %v, want %v", decoded["id"], 42)
		}
		if decoded["commit"] != "abc123" {
			t.Errorf("commit = %v, want %q", decoded["commit"], "abc123")
		}
		if decoded["channel"] != "stable" {
			t.Errorf("channel = %v, want %q", decoded["channel"], "stable")
		}
		if decoded["tainted"] != true {
			t.Errorf("tainted = %v, want true", decoded["tainted"])
		}
		if decoded["created_at"] != "2025-06-01T10:30:00Z" {
			t.Errorf("created_at = %v, want %q", decoded["created_at"], "2025-06-01T10:30:00Z")
		}
	})

	t.Run("未設定のチャネルはJSONから省略されること", func(t *testing.T) {
		t.Parallel()

		data := UpdateData{
			ID:       1,
			Commit:   "abc123",
			Manifest: json.RawMessage(`{}`),
		}

		jsonBytes, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("json.Marshal()でエラーが発生: %v", err)
		}
		if strings.Contains(string(jsonBytes), "channel") {
			t.Errorf("channelキーが出力された: %s", jsonBytes)
		}
	})
}
