// Package ws implements the PeerMessenger contract over a WebSocket
// link: the phone listens, the watch dials. It stands in for the host
// platform's paired-device channel, including the short-lived local
// file hand-off of the large-payload side channel.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/perminder-klair/apple-watch-notes/io/transport"
)

const (
	frameMessage = "message"
	frameFile    = "file"

	// generous ceiling for file frames carrying audio
	readLimit = 32 << 20

	dialBaseDelay = 100 * time.Millisecond
	dialMaxDelay  = 10 * time.Second
)

// frame is the single wire unit of the gateway. Body is the opaque
// envelope bytes produced by the protocol codec.
type frame struct {
	Type string `json:"type"`
	Body []byte `json:"body"`
}

// Gateway is a PeerMessenger over one WebSocket connection.
type Gateway struct {
	dialURL    string
	listenAddr string

	mu       sync.Mutex
	delegate transport.Delegate
	conn     *websocket.Conn
	server   *http.Server
}

// NewDialer creates the watch-side gateway. It keeps dialing the phone
// with backoff until the connection is established, and redials after
// every loss.
func NewDialer(url string) *Gateway {
	return &Gateway{dialURL: url}
}

// NewListener creates the phone-side gateway listening on addr.
func NewListener(addr string) *Gateway {
	return &Gateway{listenAddr: addr}
}

// Activate installs the delegate and starts the connection machinery.
func (g *Gateway) Activate(ctx context.Context, d transport.Delegate) error {
	g.mu.Lock()
	g.delegate = d
	g.mu.Unlock()

	if g.dialURL != "" {
		go g.dialLoop(ctx)
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/peer", func(w http.ResponseWriter, r *http.Request) {
		g.accept(ctx, w, r)
	})
	server := &http.Server{Addr: g.listenAddr, Handler: mux}

	g.mu.Lock()
	g.server = server
	g.mu.Unlock()

	go func() {
		<-ctx.Done()
		server.Close()
	}()
	go func() {
		log.Infof("peer gateway listening on %s", g.listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("peer gateway stopped: %v", err)
		}
	}()
	return nil
}

// SendMessage ships envelope bytes as a message frame. Completion means
// the frame was written to the connection, not that the peer read it.
func (g *Gateway) SendMessage(ctx context.Context, data []byte) error {
	return g.writeFrame(ctx, frame{Type: frameMessage, Body: data})
}

// TransferFile ships the file body as a file frame. The receiving side
// re-materializes it as a short-lived temp file.
func (g *Gateway) TransferFile(ctx context.Context, path string) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read transfer source")
	}
	return g.writeFrame(ctx, frame{Type: frameFile, Body: body})
}

// Reachable reports whether the link is currently up.
func (g *Gateway) Reachable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

// Paired always reports true: a gateway is only constructed for a
// configured counterpart.
func (g *Gateway) Paired() bool { return true }

// Close tears the gateway down.
func (g *Gateway) Close() error {
	g.mu.Lock()
	conn, server := g.conn, g.server
	g.conn = nil
	g.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	if server != nil {
		return server.Close()
	}
	return nil
}

func (g *Gateway) writeFrame(ctx context.Context, f frame) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()

	if conn == nil {
		return transport.ErrNotReachable
	}

	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (g *Gateway) dialLoop(ctx context.Context) {
	delay := dialBaseDelay
	for {
		conn, _, err := websocket.Dial(ctx, g.dialURL, nil)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > dialMaxDelay {
				delay = dialMaxDelay
			}
			continue
		}

		delay = dialBaseDelay
		log.Infof("connected to peer at %s", g.dialURL)
		g.runConn(ctx, conn)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (g *Gateway) accept(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warnf("failed to accept peer connection: %v", err)
		return
	}
	log.Infof("peer connected from %s", r.RemoteAddr)
	g.runConn(ctx, conn)
}

// runConn installs the connection, pumps inbound frames until the link
// drops, and signals both reachability transitions.
func (g *Gateway) runConn(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)

	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close(websocket.StatusPolicyViolation, "superseded by new connection")
	}
	g.conn = conn
	d := g.delegate
	g.mu.Unlock()

	if d != nil {
		d.OnReachabilityChanged(true)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		g.dispatch(data)
	}

	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
	}
	g.mu.Unlock()

	conn.CloseNow()
	if d != nil {
		d.OnReachabilityChanged(false)
	}
}

func (g *Gateway) dispatch(data []byte) {
	g.mu.Lock()
	d := g.delegate
	g.mu.Unlock()
	if d == nil {
		return
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warnf("dropping undecodable frame: %v", err)
		return
	}

	switch f.Type {
	case frameMessage:
		d.OnMessage(f.Body)
	case frameFile:
		tmp, err := os.CreateTemp("", "peer-inbound-*.bin")
		if err != nil {
			log.Errorf("failed to stage inbound file: %v", err)
			return
		}
		name := tmp.Name()
		_, werr := tmp.Write(f.Body)
		cerr := tmp.Close()
		if werr == nil && cerr == nil {
			// the delegate must copy the body before returning; the
			// staged file is reclaimed immediately after
			d.OnFile(name)
		}
		os.Remove(name)
	default:
		log.Warnf("dropping frame of unknown type %q", f.Type)
	}
}
