package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/ledger"
	"autopilot/internal/monitor"
	"autopilot/internal/profile"
	"autopilot/internal/scheduler"
	"autopilot/internal/vault"
)

type serverDeps struct {
	directory *profile.Directory
	vault     *vault.Vault
	book      *ledger.Ledger
	events    *monitor.Service
	scheduler *scheduler.Scheduler
}

func startServer(ctx context.Context, deps serverDeps, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /outcomes", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := parseLimit(q.Get("limit"), 200)

		if cycleRaw := q.Get("cycle_id"); cycleRaw != "" {
			cycleID, err := strconv.ParseInt(cycleRaw, 10, 64)
			if err != nil {
				http.Error(w, "cycle_id 非法", http.StatusBadRequest)
				return
			}
			outcomes, err := deps.book.OutcomesByCycle(r.Context(), cycleID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, outcomes, logger)
			return
		}

		if userRaw := q.Get("user_id"); userRaw != "" {
			userID, err := strconv.ParseInt(userRaw, 10, 64)
			if err != nil {
				http.Error(w, "user_id 非法", http.StatusBadRequest)
				return
			}
			outcomes, err := deps.book.OutcomesByUser(r.Context(), userID, limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, outcomes, logger)
			return
		}

		http.Error(w, "需要 cycle_id 或 user_id 参数", http.StatusBadRequest)
	})

	mux.HandleFunc("GET /cycles", func(w http.ResponseWriter, r *http.Request) {
		cycles, err := deps.book.ListCycles(r.Context(), parseLimit(r.URL.Query().Get("limit"), 50))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, cycles, logger)
	})

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := deps.events.ListEvents(r.Context(), eventType, parseLimit(q.Get("limit"), 200))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("POST /profiles/{id}/settings", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "用户ID非法", http.StatusBadRequest)
			return
		}

		var settings profile.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}

		if err := deps.directory.UpdateSettings(r.Context(), userID, settings); err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /profiles/{id}/credentials", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "用户ID非法", http.StatusBadRequest)
			return
		}

		var body struct {
			APIKey    string `json:"api_key"`
			APISecret string `json:"api_secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		if body.APIKey == "" || body.APISecret == "" {
			http.Error(w, "api_key 与 api_secret 不能为空", http.StatusBadRequest)
			return
		}

		keyEnc, err := deps.vault.Encrypt(body.APIKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		secretEnc, err := deps.vault.Encrypt(body.APISecret)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		if err := deps.directory.SetCredentials(r.Context(), userID, keyEnc, secretEnc); err != nil {
			if errors.Is(err, profile.ErrNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /cycles/run", func(w http.ResponseWriter, r *http.Request) {
		// 手工触发同样受单飞保护，运行中的周期不会被打断。
		go func() {
			if _, err := deps.scheduler.TryRunCycle(ctx); err != nil {
				logger.Warn("手工触发的周期失败", zap.Error(err))
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭查询接口失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("查询接口异常", zap.Error(err))
		}
	}()

	logger.Info("查询接口已启动", zap.String("addr", addr))
	return nil
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	if v > 1000 {
		v = 1000
	}
	return v
}
