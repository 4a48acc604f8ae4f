// Package api 提供房間的 HTTP 管理介面與 WebSocket 入口
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-realtime-sync/internal/engine"
	"github.com/koopa0/system-design/14-realtime-sync/internal/lobby"
	apperrors "github.com/koopa0/system-design/14-realtime-sync/pkg/errors"
	"github.com/koopa0/system-design/14-realtime-sync/pkg/logger"
)

// RequestIDHeader 請求 ID 的 HTTP 標頭
const RequestIDHeader = "X-Request-ID"

// Handler HTTP 請求處理器
type Handler struct {
	manager *lobby.Manager
	hub     *WebSocketHub
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器，hub 為 nil 時不掛載 WebSocket 路由
func NewHandler(manager *lobby.Manager, hub *WebSocketHub, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.requestID(h.loggerMiddleware(handler)))
	}

	// 房間管理 API
	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("GET /api/v1/rooms/{room_name}", wrap(h.getRoomDetail))
	mux.HandleFunc("DELETE /api/v1/rooms/{room_name}", wrap(h.deleteRoom))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// WebSocket 需要原始的 ResponseWriter 才能 Hijack，不經過日誌中間件
	if h.hub != nil {
		mux.HandleFunc("GET /ws/rooms/{room_name}", h.recoverer(h.requestID(h.hub.ServeWS)))
	}

	return mux
}

// 請求結構
type createRoomRequest struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// createRoom 創建房間
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	rm, err := h.manager.CreateRoom(req.Name, req.Type)
	if err != nil {
		h.appErrorResponse(w, r, err)
		return
	}

	h.jsonResponse(w, rm.Status(), http.StatusCreated)
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	// 解析查詢參數
	query := r.URL.Query()

	var mode engine.Mode
	if m := query.Get("mode"); m != "" {
		parsed, err := engine.ParseMode(m)
		if err != nil {
			h.appErrorResponse(w, r, err)
			return
		}
		mode = parsed
	}

	page := 1
	if p := query.Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := 20
	if l := query.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	rooms, total := h.manager.ListRooms(mode, page, limit)

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": total,
		"page":  page,
	}, http.StatusOK)
}

// getRoomDetail 獲取房間詳情
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	rm, err := h.manager.GetRoom(r.PathValue("room_name"))
	if err != nil {
		h.appErrorResponse(w, r, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"status": rm.Status(),
		"state":  rm.GetState(),
	}, http.StatusOK)
}

// deleteRoom 關閉並移除房間
func (h *Handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RemoveRoom(r.PathValue("room_name")); err != nil {
		h.appErrorResponse(w, r, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success": true,
	}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := h.manager.Stats()
	if h.hub != nil {
		stats["connections"] = h.hub.GetConnectionCount()
	}
	h.jsonResponse(w, stats, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// appErrorResponse 依錯誤碼決定狀態碼
func (h *Handler) appErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "處理請求失敗", "error", err)
	}

	h.jsonResponse(w, map[string]any{
		"error": err.Error(),
		"code":  apperrors.Code(err),
	}, status)
}

// statusCode 錯誤碼對應的 HTTP 狀態碼
func statusCode(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeUnknownEngineType:
		return http.StatusBadRequest
	case apperrors.ErrCodeRoomNotFound, apperrors.ErrCodePlayerNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeRoomExists, apperrors.ErrCodeCapacityExceeded:
		return http.StatusConflict
	case apperrors.ErrCodeRoomClosed:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// requestID 請求 ID 中間件，沿用客戶端帶來的 ID
func (h *Handler) requestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.InfoContext(r.Context(), "HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
