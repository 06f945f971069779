package preview_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/starterkit-studio/engine/internal/preview"
	"github.com/starterkit-studio/engine/pkg/models"
)

func backend(t *testing.T, secret string, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestProvision_HappyPath(t *testing.T) {
	srv := backend(t, "shh", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/schemas/provision", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Internal-Signature"))
		require.NotEmpty(t, r.Header.Get("X-Internal-Timestamp"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "tok-1", body["sessionToken"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"schemaName": "preview_tok_1"},
		})
	})

	cp := preview.NewControlPlane(srv.URL, "shh", 5*time.Second)
	sess, err := cp.Provision(context.Background(), "tok-1", []string{"billing"}, "pro")
	require.NoError(t, err)
	require.Equal(t, "preview_tok_1", sess.SchemaName)
	require.Equal(t, models.SchemaReady, sess.SchemaStatus)
}

func TestProvision_TransportErrorMovesToFailed(t *testing.T) {
	srv := backend(t, "shh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	cp := preview.NewControlPlane(srv.URL, "shh", 5*time.Second)
	_, err := cp.Provision(context.Background(), "tok-2", nil, "pro")
	require.Error(t, err)

	var txErr *preview.TransportError
	require.ErrorAs(t, err, &txErr)
}

func TestProvision_RejectsConcurrentProvisioning(t *testing.T) {
	block := make(chan struct{})
	srv := backend(t, "shh", func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"schemaName": "s"}})
	})

	cp := preview.NewControlPlane(srv.URL, "shh", 5*time.Second)
	done := make(chan struct{})
	go func() {
		cp.Provision(context.Background(), "tok-3", nil, "pro")
		close(done)
	}()

	// Give the first call time to claim the provisioning state.
	time.Sleep(50 * time.Millisecond)
	_, err := cp.Provision(context.Background(), "tok-3", nil, "pro")
	require.Error(t, err)

	close(block)
	<-done
}

func TestInvalidate_NeverPropagatesBackendFailure(t *testing.T) {
	srv := backend(t, "shh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cp := preview.NewControlPlane(srv.URL, "shh", 5*time.Second)
	require.NotPanics(t, func() {
		cp.Invalidate(context.Background(), "tok-4")
	})
}

func TestDrop_SkippedWhenNoSchemaProvisioned(t *testing.T) {
	called := false
	srv := backend(t, "shh", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	cp := preview.NewControlPlane(srv.URL, "shh", 5*time.Second)
	cp.Drop(context.Background(), "")
	require.False(t, called)
}
