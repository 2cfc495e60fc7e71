package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthBroadcast is one coordinator health sample, per spec §4.8's
// coordinator role ("broadcasts health").
type HealthBroadcast struct {
	Agent      string    `json:"agent"`
	Time       time.Time `json:"time"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broadcaster fans out HealthBroadcast samples to connected coordinator
// observers over a websocket -- distinct from the line-oriented marketplace
// channel (spec §4.6), since peer-health fan-out is not part of the
// HAVE/NEED/DEAL wire protocol.
type Broadcaster struct {
	agent string
	log   zerolog.Logger

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// NewBroadcaster constructs a Broadcaster for one coordinator agent.
func NewBroadcaster(agent string, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{agent: agent, log: log, subs: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades an incoming HTTP request to a websocket subscriber.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("coordinator websocket upgrade failed")
		return
	}
	b.mu.Lock()
	b.subs[conn] = struct{}{}
	b.mu.Unlock()

	go b.drainUntilClosed(conn)
}

// drainUntilClosed discards inbound frames from a subscriber until it
// disconnects, then removes it from the fan-out set.
func (b *Broadcaster) drainUntilClosed(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		delete(b.subs, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastHealth samples this host's CPU and memory utilization and fans
// the sample out to every connected subscriber.
func (b *Broadcaster) BroadcastHealth(ctx context.Context) error {
	sample, err := sampleHost(ctx, b.agent)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.subs {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.log.Warn().Err(err).Msg("coordinator broadcast write failed")
			_ = conn.Close()
			delete(b.subs, conn)
		}
	}
	return nil
}

func sampleHost(ctx context.Context, agent string) (HealthBroadcast, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HealthBroadcast{}, err
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HealthBroadcast{}, err
	}

	return HealthBroadcast{
		Agent:      agent,
		Time:       time.Now(),
		CPUPercent: cpuPercent,
		MemPercent: vmem.UsedPercent,
	}, nil
}
