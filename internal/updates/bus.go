package updates

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/nao1215/updatehub/pkg/event"
)

// subscriberBuffer は購読者ごとのイベントチャネルのバッファサイズ。
const subscriberBuffer = 16

// Bus は作成イベントを接続中の購読者へ配信するインプロセスのNotification Bus。
// 発行はブロックせず、購読開始より前のイベントが再送されることはない。
// 特定の購読者に対しては発行された順序でイベントが届く。
type Bus struct {
	// mu はsubscribersとclosedを保護するミューテックス。
	mu sync.Mutex
	// subscribers は購読IDをキーとする配信チャネルの集合。
	subscribers map[string]chan event.Event
	// closed はBusが閉じられたかどうか。
	closed bool
}

// Subscription はBusへの購読を表す。
// 利用後は必ずCloseを呼び出して購読を解除する。
type Subscription struct {
	// ID は購読の一意識別子（UUID）。
	ID string
	// C は発行されたイベントを受信するチャネル。
	// 購読解除またはBusのクローズ時に閉じられる。
	C <-chan event.Event

	bus  *Bus
	once sync.Once
}

// Close は購読を解除し、受信チャネルを閉じる。複数回呼び出しても安全である。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.ID)
	})
}

// NewBus は新しいNotification Busを生成する。
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan event.Event),
	}
}

// Subscribe は新しい購読を開始する。
// この呼び出しが返った以降に発行されたイベントが購読者へ配信される。
// 過去に発行されたイベントは配信されない。
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan event.Event, subscriberBuffer)
	id := uuid.New().String()
	if b.closed {
		// クローズ済みのBusへの購読は即座に終端したチャネルを返す
		close(ch)
		return &Subscription{ID: id, C: ch, bus: b}
	}

	b.subscribers[id] = ch
	return &Subscription{ID: id, C: ch, bus: b}
}

// Publish はイベントを全購読者のチャネルへ配信する。
// 受信が追いついていない購読者のバッファが満杯の場合、その購読者への
// 配信は破棄される。発行者がブロックすることはない。
func (b *Bus) Publish(ev event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("購読者のバッファが満杯のためイベントを破棄: subscription_id=%s, event_id=%s", id, ev.ID)
		}
	}
}

// Len は現在の購読者数を返す。
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close は全ての購読を解除してBusを閉じる。
// 以降のPublishは何も配信せず、Subscribeは終端したチャネルを返す。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// unsubscribe は指定された購読を解除してチャネルを閉じる。
func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(ch)
}
