package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/relaykit/relay/internal/api"
	"github.com/relaykit/relay/internal/auth"
	"github.com/relaykit/relay/internal/config"
	"github.com/relaykit/relay/internal/crypto"
	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/deliver"
	"github.com/relaykit/relay/internal/domains"
	"github.com/relaykit/relay/internal/ingest"
	"github.com/relaykit/relay/internal/send"
	"github.com/relaykit/relay/internal/thread"
)

const (
	deliveryInterval  = 15 * time.Second
	deliveryBatchSize = 50
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Printf("Successfully connected to database")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	server, deliverService := NewServer(cfg, pool, rdb)

	go runDeliveryWorker(ctx, deliverService)

	address := ":" + cfg.Port
	log.Printf("Relay API server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// NewServer creates the HTTP handler for the Relay API server along with the
// delivery service the retry worker drains.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, rdb *redis.Client) (http.Handler, *deliver.Service) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	engine := thread.NewEngine(db.NewThreadStore(dbPool))
	provider := send.NewSMTPProvider(cfg.GetRelaySMTPAddr(), cfg.RelaySMTPUsername, cfg.RelaySMTPPassword)
	deduper := ingest.NewDeduper(rdb, ingest.DefaultDedupTTL)

	ingestService := ingest.NewService(dbPool, engine, deduper)
	sendService := send.NewService(dbPool, engine, provider)
	deliverService := deliver.NewService(dbPool, encryptor, provider, engine)
	domainService := domains.NewService(dbPool, nil, cfg.InboundMXHost)

	domainsHandler := api.NewDomainsHandler(dbPool, domainService)
	addressesHandler := api.NewAddressesHandler(dbPool)
	routesHandler := api.NewRoutesHandler(dbPool, encryptor)
	threadsHandler := api.NewThreadsHandler(dbPool, engine)
	messagesHandler := api.NewMessagesHandler(dbPool, sendService)
	inboundHandler := api.NewInboundHandler(dbPool, ingestService, cfg.InboundSharedSecret)

	requireKey := func(next http.HandlerFunc) http.Handler {
		return auth.RequireAPIKey(dbPool, next)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	mux.Handle("/api/v1/domains", requireKey(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			domainsHandler.ListDomains(w, r)
		case http.MethodPost:
			domainsHandler.CreateDomain(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// Handles /api/v1/domains/{domain_id} and /api/v1/domains/{domain_id}/verify
	mux.Handle("/api/v1/domains/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/domains/")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/verify"):
			domainsHandler.VerifyDomain(w, r, strings.TrimSuffix(rest, "/verify"))
		case r.Method == http.MethodGet && rest != "" && !strings.Contains(rest, "/"):
			domainsHandler.GetDomain(w, r, rest)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}))

	mux.Handle("/api/v1/addresses", requireKey(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			addressesHandler.ListAddresses(w, r)
		case http.MethodPost:
			addressesHandler.CreateAddress(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// Handles /api/v1/addresses/{address_id}/routes
	mux.Handle("/api/v1/addresses/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/addresses/")
		if !strings.HasSuffix(rest, "/routes") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		addressID := strings.TrimSuffix(rest, "/routes")
		switch r.Method {
		case http.MethodGet:
			routesHandler.ListRoutes(w, r, addressID)
		case http.MethodPost:
			routesHandler.CreateRoute(w, r, addressID)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	// Handles /api/v1/routes/{route_id}
	mux.Handle("/api/v1/routes/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		routeID := strings.TrimPrefix(r.URL.Path, "/api/v1/routes/")
		if r.Method != http.MethodDelete || routeID == "" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		routesHandler.DeleteRoute(w, r, routeID)
	}))

	mux.Handle("/api/v1/threads", requireKey(threadsHandler.ListThreads))

	// Handles /api/v1/threads/{thread_id}
	mux.Handle("/api/v1/threads/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		threadID := strings.TrimPrefix(r.URL.Path, "/api/v1/threads/")
		if threadID == "" {
			http.Error(w, "thread_id is required", http.StatusBadRequest)
			return
		}
		threadsHandler.GetThread(w, r, threadID)
	}))

	// Handles /api/v1/resolve/{id} for message-or-thread id resolution
	mux.Handle("/api/v1/resolve/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/resolve/")
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		threadsHandler.ResolveID(w, r, id)
	}))

	mux.Handle("/api/v1/messages", requireKey(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		messagesHandler.SendMessage(w, r)
	}))

	// Handles /api/v1/messages/{message_id}
	mux.Handle("/api/v1/messages/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		messageID := strings.TrimPrefix(r.URL.Path, "/api/v1/messages/")
		if messageID == "" {
			http.Error(w, "message_id is required", http.StatusBadRequest)
			return
		}
		messagesHandler.GetMessage(w, r, messageID)
	}))

	// Handles /api/v1/deliveries/{delivery_id} and .../retry
	mux.Handle("/api/v1/deliveries/", requireKey(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/deliveries/")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(rest, "/retry"):
			messagesHandler.RetryDelivery(w, r, strings.TrimSuffix(rest, "/retry"))
		case r.Method == http.MethodGet && rest != "" && !strings.Contains(rest, "/"):
			messagesHandler.GetDelivery(w, r, rest)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}))

	// Provider-facing webhooks, authenticated by shared secret.
	mux.HandleFunc("/internal/webhooks/inbound", inboundHandler.ReceiveMessage)
	mux.HandleFunc("/internal/webhooks/bounce", inboundHandler.ReceiveBounce)

	return mux, deliverService
}

// runDeliveryWorker drains due deliveries on a fixed interval.
func runDeliveryWorker(ctx context.Context, svc *deliver.Service) {
	ticker := time.NewTicker(deliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ProcessDue(ctx, deliveryBatchSize); err != nil {
				log.Printf("Delivery worker: %v", err)
			}
		}
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay API is running")
}
