package web

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lumacam/camera"
)

const (
	previewWriteWait = 10 * time.Second
	previewPingWait  = 60 * time.Second
)

// PreviewFeed encodes graded frames to JPEG and pushes them to connected
// WebSocket viewers. It is the display surface of the preview sink: Ready
// reflects the encoder queue so the sink can throttle upstream instead of
// frames piling up here.
type PreviewFeed struct {
	logger     *zap.Logger
	quality    int
	sendBuffer int
	frames     chan *camera.Frame
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[*previewClient]struct{}

	done chan struct{}
}

type previewClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewPreviewFeed creates the feed. sendBuffer sizes each client's outbound
// queue; quality is the JPEG quality (1..100).
func NewPreviewFeed(quality, sendBuffer int, allowedOrigins []string, logger *zap.Logger) *PreviewFeed {
	if quality <= 0 || quality > 100 {
		quality = 70
	}
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	f := &PreviewFeed{
		logger:  logger,
		quality: quality,
		frames:  make(chan *camera.Frame, 1),
		clients: make(map[*previewClient]struct{}),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
	f.sendBuffer = sendBuffer
	go f.encodeLoop()
	return f
}

// Ready reports whether the encoder can take another frame without
// queueing.
func (f *PreviewFeed) Ready() bool {
	return len(f.frames) < cap(f.frames)
}

// Enqueue hands a frame to the encoder. Never blocks; a busy encoder drops
// the frame.
func (f *PreviewFeed) Enqueue(frame *camera.Frame) {
	select {
	case f.frames <- frame:
	default:
	}
}

// encodeLoop converts frames to JPEG and broadcasts them. One encode per
// frame regardless of viewer count.
func (f *PreviewFeed) encodeLoop() {
	var buf bytes.Buffer
	for {
		select {
		case <-f.done:
			return
		case frame := <-f.frames:
			f.mu.Lock()
			n := len(f.clients)
			f.mu.Unlock()
			if n == 0 {
				continue
			}

			img, err := frameToYCbCr(frame)
			if err != nil {
				f.logger.Debug("Skipping preview frame", zap.Error(err))
				continue
			}

			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: f.quality}); err != nil {
				f.logger.Error("JPEG encode failed", zap.Error(err))
				continue
			}
			payload := make([]byte, buf.Len())
			copy(payload, buf.Bytes())
			f.broadcast(payload)
		}
	}
}

func (f *PreviewFeed) broadcast(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		select {
		case client.send <- payload:
		default:
			// Slow viewer: skip this frame for it.
		}
	}
}

// HandleWS upgrades the request and serves JPEG frames until the viewer
// disconnects.
func (f *PreviewFeed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error("Preview WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &previewClient{
		conn: conn,
		send: make(chan []byte, f.sendBuffer),
	}

	f.mu.Lock()
	f.clients[client] = struct{}{}
	count := len(f.clients)
	f.mu.Unlock()

	f.logger.Info("Preview viewer connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("viewers", count))

	go f.writePump(client)
	f.readPump(client)
}

func (f *PreviewFeed) readPump(client *previewClient) {
	defer f.removeClient(client)

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(previewPingWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(previewPingWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("Preview viewer read error", zap.Error(err))
			}
			return
		}
	}
}

func (f *PreviewFeed) writePump(client *previewClient) {
	ticker := time.NewTicker(previewPingWait * 9 / 10)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *PreviewFeed) removeClient(client *previewClient) {
	f.mu.Lock()
	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		close(client.send)
	}
	count := len(f.clients)
	f.mu.Unlock()

	client.conn.Close()
	f.logger.Info("Preview viewer disconnected", zap.Int("viewers", count))
}

// Viewers returns the number of connected preview clients.
func (f *PreviewFeed) Viewers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close stops the encoder and disconnects all viewers.
func (f *PreviewFeed) Close() {
	close(f.done)
	f.mu.Lock()
	for client := range f.clients {
		delete(f.clients, client)
		close(client.send)
		client.conn.Close()
	}
	f.mu.Unlock()
}

// frameToYCbCr builds a 4:2:0 image view over a biplanar frame. The
// interleaved chroma plane is split into the separate Cb/Cr planes the
// image package expects.
func frameToYCbCr(frame *camera.Frame) (*image.YCbCr, error) {
	if !frame.ValidPlanes() {
		return nil, camera.ErrInvalidPlanes
	}

	w, h := frame.Width, frame.Height
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	copy(img.Y, frame.Y)

	cw := w / 2
	for row := 0; row < h/2; row++ {
		src := frame.CbCr[row*w : row*w+w]
		dst := row * img.CStride
		for i := 0; i < cw; i++ {
			img.Cb[dst+i] = src[i*2]
			img.Cr[dst+i] = src[i*2+1]
		}
	}
	return img, nil
}

// originChecker builds the WebSocket origin policy from the configured
// allow list. An empty list allows everything, matching the HTTP CORS
// middleware.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
