package bundler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/alliancesoftware/apfrontend/internal/logging"
)

// HMRListener subscribes to the Vite dev server's hot module reload
// socket and notifies subscribers when modules change, so caches derived
// from dev server output (e.g. vanilla extract class mappings) can be
// invalidated without restarting.
type HMRListener struct {
	devServerURLBase string
	logger           logging.Logger

	mu          sync.Mutex
	subscribers []func(paths []string)
}

// NewHMRListener returns a listener against the dev server at base, e.g.
// "http://localhost:5173".
func NewHMRListener(devServerURLBase string, logger logging.Logger) *HMRListener {
	if logger == nil {
		logger = logging.Discard()
	}
	return &HMRListener{
		devServerURLBase: devServerURLBase,
		logger:           logger.WithComponent("hmr"),
	}
}

// Subscribe registers fn to be called with the changed module paths on
// every update. A full reload calls fn with no paths.
func (l *HMRListener) Subscribe(fn func(paths []string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, fn)
}

// hmrMessage is the subset of Vite's HMR protocol we care about.
type hmrMessage struct {
	Type    string `json:"type"`
	Updates []struct {
		Path string `json:"path"`
	} `json:"updates"`
}

// Run connects to the dev server and dispatches updates until ctx is
// cancelled, reconnecting with backoff when the dev server restarts.
func (l *HMRListener) Run(ctx context.Context) {
	wsURL := strings.Replace(l.devServerURLBase, "http", "ws", 1)
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
			Subprotocols: []string{"vite-hmr"},
		})
		if err != nil {
			l.logger.Debug(ctx, "failed to connect to dev server HMR socket, retrying", "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		l.logger.Debug(ctx, "connected to dev server HMR socket")
		l.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (l *HMRListener) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Debug(ctx, "HMR socket closed, reconnecting", "error", err)
			}
			return
		}
		var msg hmrMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "update":
			paths := make([]string, 0, len(msg.Updates))
			for _, u := range msg.Updates {
				paths = append(paths, u.Path)
			}
			l.notify(paths)
		case "full-reload":
			l.notify(nil)
		}
	}
}

func (l *HMRListener) notify(paths []string) {
	l.mu.Lock()
	subscribers := make([]func(paths []string), len(l.subscribers))
	copy(subscribers, l.subscribers)
	l.mu.Unlock()
	for _, fn := range subscribers {
		fn(paths)
	}
}
