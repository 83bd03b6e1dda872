package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/islandproperties/concierge/backend/internal/config"
	"github.com/islandproperties/concierge/backend/internal/handler"
	"github.com/islandproperties/concierge/backend/internal/handler/speech"
	"github.com/islandproperties/concierge/backend/internal/model/persona"
	"github.com/islandproperties/concierge/backend/internal/service/ai"
	"github.com/islandproperties/concierge/backend/internal/service/chat"
	"github.com/islandproperties/concierge/backend/internal/service/cost"
	"github.com/islandproperties/concierge/backend/internal/service/knowledge"
	"github.com/islandproperties/concierge/backend/internal/service/prompt"
	"github.com/islandproperties/concierge/backend/internal/service/session"
	speechService "github.com/islandproperties/concierge/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personas := persona.Seed()
	if cfg.Concierge.ConfigFile != "" {
		personas, err = persona.LoadFile(cfg.Concierge.ConfigFile, personas)
		if err != nil {
			log.Fatalf("failed to load personas: %v", err)
		}
		log.Printf("persona catalogue loaded from %s", cfg.Concierge.ConfigFile)
	}
	personaStore := persona.NewMemoryStore(personas)

	ledger, err := cost.NewLedger(cost.Config{
		Path:      cfg.Cost.LedgerPath,
		QueueSize: cfg.Cost.QueueSize,
		CharRate:  cfg.Cost.VoiceCharRate,
		Rates:     cfg.Cost.Rates,
	})
	if err != nil {
		log.Fatalf("failed to open cost ledger: %v", err)
	}
	log.Printf("[cost] ledger at %s", ledger.Path())

	var llm *ai.Service
	if cfg.AI.Enabled() {
		llm, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing with canned replies only")
		} else {
			log.Printf("AI service initialized (%s, model %s)", cfg.AI.Provider, llm.ModelName())
		}
	} else {
		log.Printf("%s credentials not configured, chat answers with canned replies", cfg.AI.Provider)
	}

	sessions := session.NewStore(session.Config{
		MaxMessages:      cfg.Concierge.MaxMessagesPerSession,
		Timeout:          cfg.Concierge.SessionTimeout,
		CircuitThreshold: cfg.Concierge.CircuitBreakerThreshold,
		MaxEntries:       cfg.Concierge.MaxSessions,
	})

	kb := knowledge.NewClient(knowledge.Config{
		BaseURL:  cfg.Knowledge.BaseURL,
		Timeout:  cfg.Knowledge.Timeout,
		TopK:     cfg.Knowledge.TopK,
		MinScore: cfg.Knowledge.MinScore,
	})

	deps := chat.Deps{
		LLM:      llm,
		Sessions: sessions,
		Guard:    prompt.NewGuard(cfg.Concierge.MaxInputChars),
		Composer: prompt.NewComposer(),
		Costs:    ledger,
	}
	if kb.Enabled() {
		deps.Knowledge = kb
	}
	gateway := chat.NewGateway(deps, chat.Options{
		Enabled:       cfg.Concierge.Enabled,
		HistoryWindow: cfg.Concierge.HistoryWindow,
	})
	if !cfg.Concierge.Enabled {
		log.Println("concierge disabled by CONCIERGE_ENABLED, serving offline replies")
	}

	var (
		voice speech.VoiceRelay
		relay *speechService.Relay
	)
	if cfg.Speech.Enabled {
		synth, err := speechService.NewSynthesizer(cfg.Speech.Model())
		if err != nil {
			log.Fatalf("failed to initialize speech: %v", err)
		}
		relay = speechService.NewRelay(synth, ledger, speechService.RelayConfig{
			MaxRequests:   cfg.Voice.MaxRequestsPerSession,
			Cooldown:      cfg.Voice.Cooldown,
			MaxTextLength: cfg.Voice.MaxTextLength,
			IdleTimeout:   cfg.Concierge.SessionTimeout,
			MaxEntries:    cfg.Concierge.MaxSessions,
		})
		voice = relay
		log.Printf("[voice] relay initialized with %s", relay.Provider())
	} else {
		log.Println("speech credentials not configured, voice endpoint disabled")
	}

	router := handler.NewRouter(handler.Deps{
		Personas:       personaStore,
		DefaultPersona: cfg.Concierge.DefaultPersona,
		Gateway:        gateway,
		Voice:          voice,
		Costs:          ledger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Features: map[string]bool{
			"chat":      cfg.Concierge.Enabled && llm != nil,
			"streaming": gateway.Streaming(),
			"knowledge": kb.Enabled(),
			"voice":     relay != nil,
		},
	})

	startServer(ctx, cfg.Server, router)

	sessions.Close()
	if relay != nil {
		relay.Close()
	}
	if err := ledger.Close(); err != nil {
		log.Printf("[cost] close ledger: %v", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Island Properties concierge listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
