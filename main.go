package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/perminder-klair/apple-watch-notes/config"
	"github.com/perminder-klair/apple-watch-notes/core/correlation"
	"github.com/perminder-klair/apple-watch-notes/core/dto"
	"github.com/perminder-klair/apple-watch-notes/core/requester"
	"github.com/perminder-klair/apple-watch-notes/core/responder"
	"github.com/perminder-klair/apple-watch-notes/core/status"
	ioengine "github.com/perminder-klair/apple-watch-notes/io/engine"
	"github.com/perminder-klair/apple-watch-notes/io/gateway/ws"
	"github.com/perminder-klair/apple-watch-notes/io/store"
	"github.com/perminder-klair/apple-watch-notes/io/transport"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	conf := config.Get()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outbox, err := transport.OpenOutbox(conf.OutboxDir)
	if err != nil {
		log.Fatalf("failed to open outbox: %v", err)
	}
	defer outbox.Close()

	switch conf.Role {
	case "watch":
		runWatch(ctx, conf, outbox)
	case "phone":
		runPhone(ctx, conf, outbox)
	default:
		log.Fatalf("unknown role %q (want watch or phone)", conf.Role)
	}
}

// runWatch starts the requesting peer: it dials the phone and persists
// finished transcriptions as notes.
func runWatch(ctx context.Context, conf *config.Config, outbox *transport.Outbox) {
	notes, err := store.New(conf.NotesPath)
	if err != nil {
		log.Fatalf("failed to open notes store: %v", err)
	}
	defer notes.Close()

	adapter := transport.NewAdapter(ws.NewDialer(conf.PeerURL), outbox)
	req := requester.New(adapter, correlation.NewTracker(), conf.RequestTTL)

	unsubscribe := req.Subscribe(func(c dto.Completion) {
		if c.Err != nil {
			log.Warnf("request %s (%s) failed: %v", c.RequestID, c.Kind, c.Err)
			return
		}
		if c.Kind != dto.KindTranscription {
			log.Infof("request %s completed: %s", c.RequestID, c.Result)
			return
		}
		note := store.Note{
			ID:        uuid.NewString(),
			Title:     "Voice note",
			Body:      c.Result,
			Source:    "transcription",
			CreatedAt: time.Now(),
		}
		if err := notes.Save(note); err != nil {
			log.Errorf("failed to save transcribed note: %v", err)
			return
		}
		log.Infof("saved transcribed note %s from request %s", note.ID, c.RequestID)
	})
	defer unsubscribe()

	if err := adapter.Activate(ctx); err != nil {
		log.Fatalf("failed to activate transport: %v", err)
	}

	log.Infof("watch peer started, dialing %s", conf.PeerURL)
	req.Run(ctx)
}

// runPhone starts the responding peer: it listens for the watch, serves
// offloaded requests and broadcasts engine availability.
func runPhone(ctx context.Context, conf *config.Config, outbox *transport.Outbox) {
	summarizer := ioengine.NewExtractive(0)
	transcriber := ioengine.NewUnavailable()

	adapter := transport.NewAdapter(ws.NewListener(conf.ListenAddr), outbox)
	broadcaster := status.New(adapter, status.EngineProber(summarizer, transcriber))
	resp := responder.New(adapter, correlation.NewInFlight(), summarizer, transcriber,
		responder.WithStatusNotifier(broadcaster))

	if err := adapter.Activate(ctx); err != nil {
		log.Fatalf("failed to activate transport: %v", err)
	}

	log.Infof("phone peer started, listening on %s", conf.ListenAddr)
	resp.Run(ctx)
}
