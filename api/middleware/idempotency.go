package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/solverpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/solverpay-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	replayedHeader         = "Idempotent-Replayed"
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
	maxIdempotencyKeyBytes = 255
)

type idempotencyRule struct {
	method   string
	pattern  string
	ttl      time.Duration
	required bool
}

// Job submission keys are optional so plain clients keep working; a retried
// submission carrying the same key is never charged twice.
var idempotencyRules = []idempotencyRule{
	{http.MethodPost, "/api/v1/jobs", defaultIdempotencyTTL, false},
	{http.MethodPost, "/api/v1/jobs/{jobId}/refund", defaultIdempotencyTTL, false},
	{http.MethodPost, "/internal/v1/accounts/{accountId}/deposits", criticalIdempotencyTTL, true},
}

func ruleFor(method, pattern string) (idempotencyRule, bool) {
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.pattern == pattern {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

// slot is what lives under an idempotency key. A slot without a status is a
// claim held by a request still running.
type slot struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (s slot) finished() bool { return s.Status != 0 }

func (s slot) encode() string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

// Idempotency claims the key before running the handler, so two concurrent
// retries cannot both reach it. A 2xx response is stored and replayed for the
// key's lifetime; anything else frees the key for another attempt.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := ruleFor(r.Method, routeOf(r))
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "" && rule.required:
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case clientKey == "":
				next.ServeHTTP(w, r)
				return
			case len(clientKey) > maxIdempotencyKeyBytes:
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(callerScope(r), clientKey)
			claim := slot{Fingerprint: fingerprint(body)}

			won, err := store.SetNX(ctx, key, claim.encode(), inFlightTTL)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !won {
				replay(w, r, store, key, claim.Fingerprint, logg)
				return
			}

			rec := &recorder{ResponseWriter: w, body: &bytes.Buffer{}}
			stored := false
			defer func() {
				if !stored {
					if err := store.Del(context.WithoutCancel(ctx), key); err != nil && logg != nil {
						logg.Error(ctx, "release idempotency claim", err)
					}
				}
			}()

			next.ServeHTTP(rec, r)

			if rec.code() < 200 || rec.code() >= 300 {
				return
			}
			claim.Status = rec.code()
			claim.ContentType = rec.Header().Get("Content-Type")
			claim.Body = rec.body.Bytes()
			if err := store.Set(ctx, key, claim.encode(), rule.ttl); err != nil {
				if logg != nil {
					logg.Error(ctx, "persist idempotent response", err)
				}
				return
			}
			stored = true
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore, key, want string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the holder failed and released the key between our claim and this read
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request did not complete; retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var prior slot
	if err := json.Unmarshal([]byte(raw), &prior); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case prior.Fingerprint != want:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case !prior.finished():
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this idempotency key is still in progress"))
	default:
		if prior.ContentType != "" {
			w.Header().Set("Content-Type", prior.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(prior.Status)
		_, _ = w.Write(prior.Body)
	}
}

// callerScope keeps keys from different callers apart.
func callerScope(r *http.Request) string {
	caller := AccountIDFromContext(r.Context()).String()
	if subject := ServiceSubjectFromContext(r.Context()); subject != "" {
		caller = "svc:" + subject
	}
	return caller + "|" + r.Method + "|" + r.URL.Path
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
