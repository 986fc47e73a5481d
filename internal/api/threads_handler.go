package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaykit/relay/internal/db"
	"github.com/relaykit/relay/internal/models"
	"github.com/relaykit/relay/internal/thread"
)

type ThreadsHandler struct {
	pool   *pgxpool.Pool
	engine *thread.Engine
}

func NewThreadsHandler(pool *pgxpool.Pool, engine *thread.Engine) *ThreadsHandler {
	return &ThreadsHandler{
		pool:   pool,
		engine: engine,
	}
}

type threadsResponse struct {
	Threads    []*models.Thread `json:"threads"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
}

// ListThreads returns the account's threads, most recently active first.
func (h *ThreadsHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	page, limit := ParsePaginationParams(r, 50)
	offset := (page - 1) * limit

	threads, err := db.GetThreadsForAccount(r.Context(), h.pool, accountID, limit, offset)
	if err != nil {
		log.Printf("ThreadsHandler: Failed to list threads: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	totalCount, err := db.GetThreadCountForAccount(r.Context(), h.pool, accountID)
	if err != nil {
		log.Printf("ThreadsHandler: Failed to get thread count: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if threads == nil {
		threads = []*models.Thread{}
	}

	writeJSON(w, http.StatusOK, threadsResponse{
		Threads:    threads,
		TotalCount: totalCount,
		Page:       page,
		Limit:      limit,
	})
}

type threadDetailResponse struct {
	Thread   *models.Thread          `json:"thread"`
	Messages []*models.ThreadMessage `json:"messages"`
}

// GetThread returns one thread with its full message sequence in position
// order. Path: /api/v1/threads/{thread_id}
func (h *ThreadsHandler) GetThread(w http.ResponseWriter, r *http.Request, threadID string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	t, err := db.GetThreadByID(r.Context(), h.pool, accountID, threadID)
	if err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		log.Printf("ThreadsHandler: Failed to get thread: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	messages, err := db.GetMessagesForThread(r.Context(), h.pool, accountID, t.ID)
	if err != nil {
		log.Printf("ThreadsHandler: Failed to get messages: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []*models.ThreadMessage{}
	}

	writeJSON(w, http.StatusOK, threadDetailResponse{
		Thread:   t,
		Messages: messages,
	})
}

// ResolveID reports whether an id names a message or a thread, and the
// concrete message it resolves to. Path: /api/v1/resolve/{id}
func (h *ThreadsHandler) ResolveID(w http.ResponseWriter, r *http.Request, id string) {
	accountID, ok := GetAccountIDFromContext(w, r)
	if !ok {
		return
	}

	res, err := h.engine.Resolve(r.Context(), accountID, id)
	if err != nil {
		if errors.Is(err, thread.ErrNotFound) {
			http.Error(w, "Message or thread not found", http.StatusNotFound)
			return
		}
		log.Printf("ThreadsHandler: Failed to resolve id: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message_id":      res.MessageID,
		"thread_id":       res.ThreadID,
		"direction":       res.Direction,
		"is_thread_alias": res.IsThreadAlias,
	})
}
