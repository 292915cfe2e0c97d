package keyvault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildeworks/steward/pkg/remote"
)

// fakeKeyService is an in-memory key service. Listing order is insertion
// order, which the tie-break tests rely on.
type fakeKeyService struct {
	mu      sync.Mutex
	keys    []KeyRecord
	nextID  int
	deletes []string
	creates int

	failList   bool
	failDelete bool
}

func (f *fakeKeyService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == "GET" && r.URL.Path == "/api/v2/keys":
			if f.failList {
				http.Error(w, "listing unavailable", http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"resources": f.keys})

		case r.Method == "POST" && r.URL.Path == "/api/v2/keys":
			var body struct {
				Resources []KeyRecord `json:"resources"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			f.creates++
			rec := KeyRecord{
				ID:           fmt.Sprintf("key-%d", f.nextID),
				Name:         body.Resources[0].Name,
				Payload:      body.Resources[0].Payload,
				CreationDate: time.Now().UTC(),
			}
			f.keys = append(f.keys, rec)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{"resources": []KeyRecord{rec}})

		case r.Method == "DELETE" && strings.HasPrefix(r.URL.Path, "/api/v2/keys/"):
			if f.failDelete {
				http.Error(w, "delete unavailable", http.StatusServiceUnavailable)
				return
			}
			id := strings.TrimPrefix(r.URL.Path, "/api/v2/keys/")
			f.deletes = append(f.deletes, id)
			for i, k := range f.keys {
				if k.ID == id {
					f.keys = append(f.keys[:i], f.keys[i+1:]...)
					break
				}
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeKeyService) add(id, name string, created time.Time) {
	f.keys = append(f.keys, KeyRecord{ID: id, Name: name, CreationDate: created})
}

func (f *fakeKeyService) named(name string) []KeyRecord {
	var out []KeyRecord
	for _, k := range f.keys {
		if k.Name == name {
			out = append(out, k)
		}
	}
	return out
}

func newTestManager(t *testing.T, baseURL string) *Manager {
	t.Helper()
	cfg := &remote.Config{
		BaseURL:    baseURL,
		AuthToken:  "token",
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	}
	client, err := NewClient(cfg, "instance-1", hclog.NewNullLogger())
	require.NoError(t, err)
	return NewManager(client, hclog.NewNullLogger())
}

func TestEnsureKeyReturnsNewestAndDeletesStale(t *testing.T) {
	svc := &fakeKeyService{}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.add("k-old", "K", base)
	svc.add("k-mid", "K", base.Add(time.Hour))
	svc.add("k-new", "K", base.Add(2*time.Hour))
	svc.add("other", "L", base)

	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	id, err := m.EnsureKey(context.Background(), "K", map[string]string{"v": "1"})

	require.NoError(t, err)
	assert.Equal(t, "k-new", id)
	assert.Equal(t, []string{"k-old", "k-mid"}, svc.deletes)
	assert.Equal(t, 0, svc.creates, "existing survivor must not trigger a create")

	// Unrelated names untouched.
	assert.Len(t, svc.named("L"), 1)
}

func TestEnsureKeyCreatesWhenAbsent(t *testing.T) {
	svc := &fakeKeyService{}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	id, err := m.EnsureKey(context.Background(), "K", map[string]string{"v": "1"})

	require.NoError(t, err)
	assert.Equal(t, "key-1", id)

	// Payload travels as base64-encoded JSON.
	created := svc.named("K")
	require.Len(t, created, 1)
	decoded, err := base64.StdEncoding.DecodeString(created[0].Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":"1"}`, string(decoded))
}

func TestCreateKeyReplacesAllHolders(t *testing.T) {
	svc := &fakeKeyService{}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.add("k-1", "K", base)
	svc.add("k-2", "K", base.Add(time.Hour))
	svc.add("k-3", "K", base.Add(2*time.Hour))

	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	id, err := m.CreateKey(context.Background(), "K", map[string]string{"v": "2"})

	require.NoError(t, err)
	assert.Equal(t, "key-1", id)
	assert.ElementsMatch(t, []string{"k-1", "k-2", "k-3"}, svc.deletes)

	remaining := svc.named("K")
	require.Len(t, remaining, 1, "exactly one key named K must remain")
	assert.Equal(t, id, remaining[0].ID)
}

func TestEnsureKeyTimestampTieBreak(t *testing.T) {
	svc := &fakeKeyService{}
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.add("k-early", "K", ts)
	svc.add("k-late", "K", ts)

	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	id, err := m.EnsureKey(context.Background(), "K", nil)

	require.NoError(t, err)
	assert.Equal(t, "k-late", id, "later-listed record wins an exact timestamp tie")
	assert.Equal(t, []string{"k-early"}, svc.deletes)
}

func TestEnsureKeyTreatsUnreachableListingAsEmpty(t *testing.T) {
	svc := &fakeKeyService{failList: true}
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	id, err := m.EnsureKey(context.Background(), "K", map[string]string{"v": "1"})

	require.NoError(t, err)
	assert.Equal(t, "key-1", id)
	assert.Equal(t, 1, svc.creates)
}

func TestEnsureKeySurfacesDeleteFailure(t *testing.T) {
	svc := &fakeKeyService{failDelete: true}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.add("k-old", "K", base)
	svc.add("k-new", "K", base.Add(time.Hour))

	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	m := newTestManager(t, srv.URL)
	_, err := m.EnsureKey(context.Background(), "K", nil)

	require.Error(t, err, "a failed delete must not be swallowed")
	assert.Contains(t, err.Error(), "k-old")
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	encoded, err := encodePayload(map[string]string{"secret": "s3"})
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, DecodePayload(encoded, &out))
	assert.Equal(t, "s3", out["secret"])

	assert.Error(t, DecodePayload("%%%not-base64", &out))
}
