package updates

import (
	"context"
	"log"
	"time"

	"github.com/nao1215/updatehub/pkg/event"
	"github.com/nao1215/updatehub/pkg/httpclient"
)

// deliveryTimeout は1つのイベントのWebhook配送に許容する時間。
const deliveryTimeout = 10 * time.Second

// Notifier はNotification Busを購読し、イベントを外部のWebhookへ転送する
// バックグラウンドプロセス。CI/CDパイプラインやチャットボット等、
// SSE接続を維持できないシステムへの通知に使用する。
// 配送の失敗はログに記録されるのみで、取り込みリクエストの成否には影響しない。
type Notifier struct {
	// bus は購読対象のNotification Bus。
	bus *Bus
	// clients は転送先WebhookごとのHTTPクライアント。
	clients []*httpclient.Client
	// cancel はバックグラウンドゴルーチンを停止するためのキャンセル関数。
	cancel context.CancelFunc
	// done はバックグラウンドゴルーチンの終了を通知するチャネル。
	done chan struct{}
}

// NewNotifier は新しいNotifierを生成する。
// urlsには転送先WebhookのURL一覧を指定する。
func NewNotifier(bus *Bus, urls []string) *Notifier {
	clients := make([]*httpclient.Client, 0, len(urls))
	for _, u := range urls {
		clients = append(clients, httpclient.New(u))
	}
	return &Notifier{
		bus:     bus,
		clients: clients,
	}
}

// Start はバックグラウンドでイベントの転送を開始する。
// Busへの購読はこの呼び出しの中で行われるため、Startから戻った以降に
// 発行されたイベントは必ず転送対象になる。
func (n *Notifier) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})

	sub := n.bus.Subscribe()

	go func() {
		defer close(n.done)
		defer sub.Close()

		log.Printf("Notifier: Webhook転送を開始します（転送先: %d件）", len(n.clients))
		for {
			select {
			case <-ctx.Done():
				log.Println("Notifier: Webhook転送を停止しました")
				return
			case ev, ok := <-sub.C:
				if !ok {
					log.Println("Notifier: Busが閉じられたため転送を停止しました")
					return
				}
				n.deliver(ctx, ev)
			}
		}
	}()
}

// Stop はバックグラウンドでのイベント転送を停止し、終了を待つ。
func (n *Notifier) Stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	<-n.done
}

// deliver は1つのイベントを全ての転送先へ配送する。
// 転送先が配送とイベントを突き合わせられるように、イベントIDを
// リクエストIDとして伝播する。失敗した転送先はログに記録して継続する。
func (n *Notifier) deliver(ctx context.Context, ev event.Event) {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	ctx = httpclient.WithRequestID(ctx, ev.ID)

	for _, client := range n.clients {
		if err := client.PostJSON(ctx, "", ev, nil); err != nil {
			log.Printf("Notifier: Webhookへの配送に失敗: event_id=%s, error=%v", ev.ID, err)
		}
	}
}
