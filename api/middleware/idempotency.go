package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/ispbox-backend/api/responses"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/ispbox-backend/pkg/redis"
)

const (
	StandardReplayTTL = 24 * time.Hour
	CriticalReplayTTL = 7 * 24 * time.Hour

	// a pending marker outlives any sane handler; a crashed instance frees
	// the key after this
	inFlightTTL = 2 * time.Minute

	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 128
	maxIdempotentBody    = 1 << 20
)

type replayState string

const (
	statePending replayState = "pending"
	stateDone    replayState = "done"
)

type replayRecord struct {
	State       replayState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
}

// IdempotencyOption tunes replay retention.
type IdempotencyOption func(*Idempotency)

// WithCriticalTTL overrides how long money-moving responses are replayed.
func WithCriticalTTL(ttl time.Duration) IdempotencyOption {
	return func(i *Idempotency) {
		if ttl > 0 {
			i.criticalTTL = ttl
		}
	}
}

// Idempotency makes POST handlers safe to retry. The first request for an
// Idempotency-Key claims it with a pending marker; its response (unless 5xx)
// is stored and replayed to every later request with the same key and body.
// A concurrent duplicate gets 409 while the first is still running.
type Idempotency struct {
	store       pkgredis.IdempotencyStore
	logg        *logger.Logger
	criticalTTL time.Duration
}

func NewIdempotency(store pkgredis.IdempotencyStore, logg *logger.Logger, opts ...IdempotencyOption) *Idempotency {
	i := &Idempotency{store: store, logg: logg, criticalTTL: CriticalReplayTTL}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Standard keeps responses for a day.
func (i *Idempotency) Standard() func(http.Handler) http.Handler {
	return i.guard(StandardReplayTTL)
}

// Critical keeps responses for routes that move money, where gateways and
// banks retry for days.
func (i *Idempotency) Critical() func(http.Handler) http.Handler {
	return i.guard(i.criticalTTL)
}

func (i *Idempotency) guard(ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if i.store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			id := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			switch {
			case id == "":
				i.fail(ctx, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(id) > maxIdempotencyKeyLen:
				i.fail(ctx, w, pkgerrors.Newf(pkgerrors.CodeValidation, "Idempotency-Key exceeds %d characters", maxIdempotencyKeyLen))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBody))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					i.fail(ctx, w, pkgerrors.New(pkgerrors.CodeValidation, "request body too large"))
					return
				}
				i.fail(ctx, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			key := i.store.IdempotencyKey(buildScope(r), id)

			pending, _ := json.Marshal(replayRecord{State: statePending, RequestHash: hash})
			claimed, err := i.store.SetNX(ctx, key, string(pending), inFlightTTL)
			if err != nil {
				i.fail(ctx, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				i.replay(ctx, w, key, hash)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			i.settle(ctx, key, hash, rec, ttl)
		})
	}
}

// replay answers a request whose key is already claimed.
func (i *Idempotency) replay(ctx context.Context, w http.ResponseWriter, key, hash string) {
	stored, err := i.store.Get(ctx, key)
	if errors.Is(err, pkgredis.Nil) {
		// the holder released it after a server error
		i.fail(ctx, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried, try again"))
		return
	}
	if err != nil {
		i.fail(ctx, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		i.fail(ctx, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if record.RequestHash != hash {
		i.fail(ctx, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if record.State == statePending {
		i.fail(ctx, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
		return
	}

	body, err := base64.StdEncoding.DecodeString(record.Body)
	if err != nil {
		i.fail(ctx, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode stored response"))
		return
	}
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(body)
}

// settle stores the handler's response, or frees the key when the handler
// failed server-side so the client can retry.
func (i *Idempotency) settle(ctx context.Context, key, hash string, rec *responseCapture, ttl time.Duration) {
	// the client may have gone away; the record must still be written
	ctx = context.WithoutCancel(ctx)

	status := rec.statusCode()
	if status >= http.StatusInternalServerError {
		if err := i.store.Del(ctx, key); err != nil {
			i.logError(ctx, "release idempotency key", err)
		}
		return
	}

	payload, err := json.Marshal(replayRecord{
		State:       stateDone,
		RequestHash: hash,
		Status:      status,
		ContentType: rec.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
	})
	if err != nil {
		i.logError(ctx, "marshal idempotency record", err)
		return
	}
	if err := i.store.Set(ctx, key, string(payload), ttl); err != nil {
		i.logError(ctx, "persist idempotency record", err)
	}
}

func (i *Idempotency) fail(ctx context.Context, w http.ResponseWriter, err error) {
	responses.WriteError(ctx, i.logg, w, err)
}

func (i *Idempotency) logError(ctx context.Context, msg string, err error) {
	if i.logg != nil {
		i.logg.Error(ctx, msg, err)
	}
}

// buildScope keeps keys from different callers and routes apart.
func buildScope(r *http.Request) string {
	return strings.Join([]string{
		OperatorFromContext(r.Context()),
		PaymentSourceFromContext(r.Context()),
		r.Method,
		r.URL.Path,
	}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
