package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-web/internal/metrics"
	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/pkg/chessdto"
)

const (
	writeTimeout = 5 * time.Second
	loadTimeout  = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Watcher streams a game's moves over a websocket: one snapshot frame, then
// one frame per committed move until the game ends or the client leaves.
type Watcher struct {
	bus     Bus
	metrics *metrics.Metrics
	origins []string
}

type WatcherOption func(*Watcher)

func WithMetrics(m *metrics.Metrics) WatcherOption { return func(w *Watcher) { w.metrics = m } }

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) WatcherOption {
	return func(w *Watcher) { w.origins = append(w.origins, patterns...) }
}

func NewWatcher(bus Bus, opts ...WatcherOption) *Watcher {
	w := &Watcher{bus: bus}
	for _, o := range opts {
		o(w)
	}
	return w
}

// SnapshotLoader reads the current state of the watched game.
type SnapshotLoader func(ctx context.Context) (chessdto.GameView, error)

// Serve upgrades the request and streams gameID. The subscription is taken
// before load runs, so a move committed in between arrives as an event;
// events already reflected in the snapshot are skipped. Errors from load are
// returned unchanged and nothing has been written to rw.
func (w *Watcher) Serve(rw http.ResponseWriter, r *http.Request, gameID string, load SnapshotLoader) error {
	sub, err := w.bus.Subscribe(r.Context(), gameID)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", gameID, err)
	}
	defer sub.Close()

	lctx, cancel := context.WithTimeout(r.Context(), loadTimeout)
	snapshot, err := load(lctx)
	cancel()
	if err != nil {
		return err
	}

	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  w.origins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		return nil
	}
	defer conn.CloseNow()

	w.metrics.WatcherDelta(1)
	defer w.metrics.WatcherDelta(-1)

	// no client frames are expected; CloseRead handles control frames and
	// cancels ctx when the peer goes away
	ctx := conn.CloseRead(r.Context())
	log := obslog.L().With(zap.String("game_id", snapshot.ID))
	log.Info("watch_open", zap.Int("ply", snapshot.MoveCount))

	if err := writeFrame(ctx, conn, chessdto.WatchMessage{Type: chessdto.WatchSnapshot, Game: &snapshot}); err != nil {
		return nil
	}
	if snapshot.Status == "finished" {
		conn.Close(websocket.StatusNormalClosure, "game finished")
		return nil
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	lastPly := snapshot.MoveCount
	for {
		select {
		case <-ctx.Done():
			log.Info("watch_closed", zap.Int("ply", lastPly))
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Info("watch_ping_failed", zap.Error(err))
				return nil
			}
		case ev, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return nil
			}
			if ev.Ply <= lastPly {
				continue
			}
			lastPly = ev.Ply
			if err := writeFrame(ctx, conn, chessdto.WatchMessage{Type: chessdto.WatchMove, Move: &ev}); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Info("watch_write_failed", zap.Error(err))
				}
				return nil
			}
			if ev.Status == "finished" {
				conn.Close(websocket.StatusNormalClosure, "game finished")
				return nil
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, msg chessdto.WatchMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}
