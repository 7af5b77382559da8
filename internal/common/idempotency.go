package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// IdempotencyHeader is the request header carrying the client supplied key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from the idempotency store.
const IdempotentReplayHeader = "Idempotent-Replayed"

const (
	idemPending     = "pending"
	maxStoredAnswer = 64 << 10
)

// Idem provides an Idempotency-Key middleware backed by Redis.
type Idem struct {
	R   redis.Cmdable
	TTL time.Duration
}

type storedAnswer struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

func hashKey(path, key string) string {
	return "idem:" + Sha256Hex([]byte(path), []byte(key))
}

// Middleware enforces idempotency for write endpoints. The first answer below 500 is stored for TTL
// and replayed to later requests with the same key; a request arriving while the first is still
// running gets 409. Server errors release the key so the caller may retry.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ttl := i.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ctx := r.Context()
		key := hashKey(r.URL.Path, header)
		ok, err := i.R.SetNX(ctx, key, idemPending, ttl).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replay(ctx, w, key)
			return
		}

		rec := &answerCapture{ResponseWriter: w, status: http.StatusOK}
		stored := false
		defer func() {
			if !stored {
				// key still holds the pending marker; make sure it expires even if the handler panicked
				_ = i.R.Expire(context.Background(), key, ttl).Err()
			}
		}()
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			_ = i.R.Del(context.Background(), key).Err()
			stored = true
			return
		}
		if rec.overflow {
			return
		}
		data, err := json.Marshal(storedAnswer{Status: rec.status, ContentType: w.Header().Get("Content-Type"), Body: rec.body.Bytes()})
		if err != nil {
			return
		}
		if err := i.R.Set(context.Background(), key, data, ttl).Err(); err == nil {
			stored = true
		}
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
		return
	}
	var ans storedAnswer
	if err != nil || string(raw) == idemPending || json.Unmarshal(raw, &ans) != nil || ans.Status == 0 {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "a request with this idempotency key is in progress", nil)
		return
	}
	if ans.ContentType != "" {
		w.Header().Set("Content-Type", ans.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(ans.Status)
	_, _ = w.Write(ans.Body)
}

type answerCapture struct {
	http.ResponseWriter
	status   int
	body     bytes.Buffer
	overflow bool
}

func (a *answerCapture) WriteHeader(code int) {
	a.status = code
	a.ResponseWriter.WriteHeader(code)
}

func (a *answerCapture) Write(p []byte) (int, error) {
	if !a.overflow {
		if a.body.Len()+len(p) > maxStoredAnswer {
			a.overflow = true
			a.body.Reset()
		} else {
			a.body.Write(p)
		}
	}
	return a.ResponseWriter.Write(p)
}
