// Package preview implements the Preview Control Plane: signed
// provision/invalidate/drop calls against an external preview backend, and
// the session state machine those calls drive.
//
// Requests are signed with hmac.New(sha256.New, secret) over a canonical
// string of the request itself (method, path, body, timestamp),
// lowercase-hex-encoded.
package preview

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/starterkit-studio/engine/pkg/models"
)

// TransportError wraps any transport or non-2xx HTTP error from the preview
// backend. It moves the session to SchemaFailed and never propagates out
// of the Assembly Engine — only to the direct preview caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("preview %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// InvalidTransitionError signals an illegal session state transition.
type InvalidTransitionError struct {
	From, To models.SchemaStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid preview transition: %s -> %s", e.From, e.To)
}

// ControlPlane provisions and tears down ephemeral preview schemas over a
// signed internal HTTP channel.
type ControlPlane struct {
	backendURL string
	secret     []byte
	client     *http.Client
	timeout    time.Duration

	mu       sync.Mutex
	sessions map[string]*models.PreviewSession
}

func NewControlPlane(backendURL, secret string, timeout time.Duration) *ControlPlane {
	return &ControlPlane{
		backendURL: backendURL,
		secret:     []byte(secret),
		client:     &http.Client{Timeout: timeout},
		timeout:    timeout,
		sessions:   make(map[string]*models.PreviewSession),
	}
}

// Provision moves a session pending -> provisioning -> ready (or failed);
// calling it again after a failure restarts the session from pending. A
// call while the session is already provisioning is rejected with an error.
func (cp *ControlPlane) Provision(ctx context.Context, sessionToken string, features []string, tier string) (*models.PreviewSession, error) {
	cp.mu.Lock()
	sess, ok := cp.sessions[sessionToken]
	if !ok {
		sess = &models.PreviewSession{
			SessionToken: sessionToken,
			SchemaStatus: models.SchemaPending,
			CreatedAt:    time.Now().UTC(),
		}
		cp.sessions[sessionToken] = sess
	}
	if sess.SchemaStatus == models.SchemaProvisioning {
		cp.mu.Unlock()
		return nil, fmt.Errorf("preview: session %s is already provisioning", sessionToken)
	}
	if sess.SchemaStatus == models.SchemaFailed {
		// Retrying after a failure restarts the session from pending.
		if err := transition(sess, models.SchemaPending); err != nil {
			cp.mu.Unlock()
			return nil, err
		}
	}
	if err := transition(sess, models.SchemaProvisioning); err != nil {
		cp.mu.Unlock()
		return nil, err
	}
	cp.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{
		"sessionToken": sessionToken,
		"features":     features,
		"tier":         tier,
	})

	var resp struct {
		Data struct {
			SchemaName string `json:"schemaName"`
		} `json:"data"`
	}
	if err := cp.signedCall(ctx, http.MethodPost, "/internal/schemas/provision", body, &resp); err != nil {
		cp.mu.Lock()
		sess.SchemaStatus = models.SchemaFailed
		cp.mu.Unlock()
		return nil, &TransportError{Op: "provision", Err: err}
	}

	cp.mu.Lock()
	sess.SchemaName = resp.Data.SchemaName
	sess.SchemaStatus = models.SchemaReady
	cp.mu.Unlock()

	return sess, nil
}

// Invalidate moves a ready session to invalidated. Failures are logged and
// never propagate: invalidation is a non-critical side effect.
func (cp *ControlPlane) Invalidate(ctx context.Context, sessionToken string) {
	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"sessionToken": sessionToken})
	if err := cp.signedCall(ctx, http.MethodPost, "/internal/sessions/invalidate", body, nil); err != nil {
		log.Warn().Err(err).Str("session", sessionToken).Msg("preview invalidate failed (non-critical)")
	}

	cp.mu.Lock()
	if sess, ok := cp.sessions[sessionToken]; ok {
		sess.SchemaStatus = models.SchemaInvalidated
	}
	cp.mu.Unlock()
}

// Drop deletes a provisioned schema. A drop after a failed provision is a
// best-effort no-op: logged, not retried synchronously.
func (cp *ControlPlane) Drop(ctx context.Context, schemaName string) {
	if schemaName == "" {
		log.Debug().Msg("preview drop skipped: no schema was provisioned")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, cp.timeout)
	defer cancel()

	path := "/internal/schemas/" + schemaName
	if err := cp.signedCall(ctx, http.MethodDelete, path, nil, nil); err != nil {
		log.Warn().Err(err).Str("schema", schemaName).Msg("preview drop failed (non-critical)")
	}
}

func transition(sess *models.PreviewSession, to models.SchemaStatus) error {
	from := sess.SchemaStatus
	allowed := map[models.SchemaStatus][]models.SchemaStatus{
		models.SchemaPending:      {models.SchemaProvisioning, models.SchemaInvalidated},
		models.SchemaProvisioning: {models.SchemaReady, models.SchemaFailed},
		models.SchemaReady:        {models.SchemaInvalidated},
		models.SchemaFailed:       {models.SchemaPending, models.SchemaInvalidated},
	}
	for _, a := range allowed[from] {
		if a == to {
			sess.SchemaStatus = to
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// signedCall issues one HMAC-signed request with a bounded exponential
// backoff retry on transport errors and 5xx responses; 4xx responses and
// undecodable bodies are not retried. It is never used inside the
// deterministic generate() pipeline itself, only here.
func (cp *ControlPlane) signedCall(ctx context.Context, method, path string, body []byte, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, cp.backendURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		sig := sign(cp.secret, method, path, body, ts)
		req.Header.Set("X-Internal-Timestamp", ts)
		req.Header.Set("X-Internal-Signature", sig)

		resp, err := cp.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("preview backend %s %s: status %d", method, path, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("preview backend %s %s: status %d", method, path, resp.StatusCode))
		}

		if out != nil {
			data, rerr := io.ReadAll(resp.Body)
			if rerr != nil {
				return backoff.Permanent(rerr)
			}
			if len(data) > 0 {
				if jerr := json.Unmarshal(data, out); jerr != nil {
					return backoff.Permanent(jerr)
				}
			}
		}
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// sign computes HMAC_SHA256(secret, METHOD:PATH:BODY:TIMESTAMP) as
// lowercase hex.
func sign(secret []byte, method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method))
	mac.Write([]byte(":"))
	mac.Write([]byte(path))
	mac.Write([]byte(":"))
	mac.Write(body)
	mac.Write([]byte(":"))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}
