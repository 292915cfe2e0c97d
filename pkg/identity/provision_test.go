package identity

import (
	"context"
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

	"github.com/tildeworks/steward/pkg/credentials"
	"github.com/tildeworks/steward/pkg/remote"
)

const testTenant = "tenant-1"

// fakeIdentityService is an in-memory directory that records the order of
// calls it receives.
type fakeIdentityService struct {
	mu    sync.Mutex
	calls []string
	users map[string]UserAccount // keyed by primary email
	creds map[string]string      // email -> password
	roles []Role
	seq   int

	failRoles    bool
	failCreate   bool
	failSetRoles bool

	lastRoleIDs    []string
	lastAttributes map[string]string
	lastAuth       string
}

func newFakeIdentityService() *fakeIdentityService {
	return &fakeIdentityService{
		users: map[string]UserAccount{},
		creds: map[string]string{},
		roles: []Role{
			{ID: "role-admin", Name: "admin"},
			{ID: "role-reader", Name: "reader"},
		},
	}
}

func (f *fakeIdentityService) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeIdentityService) handler() http.Handler {
	prefix := "/management/v1/" + testTenant
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		path := r.URL.Path
		switch {
		case r.Method == "POST" && path == "/oauth/v1/"+testTenant+"/token":
			r.ParseForm()
			username := r.PostForm.Get("username")
			password := r.PostForm.Get("password")
			f.record("login")
			if pw, ok := f.creds[username]; !ok || pw != password {
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "user-token"})

		case r.Method == "GET" && path == prefix+"/roles":
			f.record("list-roles")
			f.lastAuth = r.Header.Get("Authorization")
			if f.failRoles {
				http.Error(w, "roles unavailable", http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"roles": f.roles})

		case r.Method == "GET" && path == prefix+"/users":
			f.record("list-users")
			users := make([]UserAccount, 0, len(f.users))
			for _, u := range f.users {
				users = append(users, u)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"users": users})

		case r.Method == "POST" && path == prefix+"/users":
			f.record("create-user")
			if f.failCreate {
				http.Error(w, "create unavailable", http.StatusServiceUnavailable)
				return
			}
			var body struct {
				UserAccount
				Password string `json:"password"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.seq++
			body.ID = fmt.Sprintf("user-%d", f.seq)
			email := body.PrimaryEmail()
			f.users[email] = body.UserAccount
			f.creds[email] = body.Password
			w.WriteHeader(http.StatusCreated)

		case r.Method == "PUT" && strings.HasSuffix(path, "/roles"):
			f.record("set-roles")
			if f.failSetRoles {
				http.Error(w, "role update unavailable", http.StatusServiceUnavailable)
				return
			}
			var body struct {
				Roles struct {
					IDs []string `json:"ids"`
				} `json:"roles"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.lastRoleIDs = body.Roles.IDs
			w.WriteHeader(http.StatusNoContent)

		case r.Method == "PUT" && strings.HasSuffix(path, "/profile"):
			f.record("set-attributes")
			var body struct {
				Attributes map[string]string `json:"attributes"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.lastAttributes = body.Attributes
			w.WriteHeader(http.StatusNoContent)

		case r.Method == "GET" && path == "/oauth/v1/"+testTenant+"/publickeys":
			json.NewEncoder(w).Encode(map[string]interface{}{"keys": []string{"k"}})

		default:
			http.NotFound(w, r)
		}
	})
}

func newTestProvisioner(t *testing.T, baseURL string) *Provisioner {
	t.Helper()
	p, err := NewProvisioner(ProvisionerOptions{
		Config: &remote.Config{
			BaseURL:    baseURL,
			Timeout:    2 * time.Second,
			MaxRetries: 1,
			RetryDelay: 10 * time.Millisecond,
		},
		TenantID:   testTenant,
		Tokens:     credentials.StaticTokenSource("mgmt-token"),
		Attributes: map[string]string{"tenant": testTenant},
	}, hclog.NewNullLogger())
	require.NoError(t, err)
	return p
}

func TestEnsureUserIsNoOpWhenLoginSucceeds(t *testing.T) {
	svc := newFakeIdentityService()
	svc.users["a@b.com"] = UserAccount{ID: "user-1", Emails: []Email{{Value: "a@b.com", Primary: true}}}
	svc.creds["a@b.com"] = "pw"

	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	p := newTestProvisioner(t, srv.URL)
	result, err := p.EnsureUser(context.Background(), "a@b.com", "pw")

	require.NoError(t, err)
	assert.False(t, result.Provisioned)
	assert.Equal(t, []string{"login"}, svc.calls, "no mutation calls on the already-provisioned path")
}

func TestEnsureUserProvisionsFreshAccount(t *testing.T) {
	svc := newFakeIdentityService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	p := newTestProvisioner(t, srv.URL)
	result, err := p.EnsureUser(context.Background(), "new@b.com", "pw")

	require.NoError(t, err)
	assert.True(t, result.Provisioned)
	assert.Equal(t, StateAttributesSet, result.State)
	assert.Equal(t, "user-1", result.UserID)

	assert.Equal(t, []string{
		"login", // initial attempt, fails
		"list-roles",
		"create-user",
		"login", // verification
		"list-users",
		"set-roles",
		"set-attributes",
	}, svc.calls)

	assert.ElementsMatch(t, []string{"role-admin", "role-reader"}, svc.lastRoleIDs)
	assert.Equal(t, map[string]string{"tenant": testTenant}, svc.lastAttributes)
	assert.Equal(t, "Bearer mgmt-token", svc.lastAuth, "management calls carry the service token")
}

func TestEnsureUserIdempotentAcrossRuns(t *testing.T) {
	svc := newFakeIdentityService()
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	p := newTestProvisioner(t, srv.URL)

	first, err := p.EnsureUser(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	require.True(t, first.Provisioned)

	mutationsAfterFirst := len(svc.calls)

	second, err := p.EnsureUser(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	assert.False(t, second.Provisioned)
	assert.Equal(t, mutationsAfterFirst+1, len(svc.calls), "second run issues only the login probe")
}

func TestEnsureUserAbortsWhenRoleListingFails(t *testing.T) {
	svc := newFakeIdentityService()
	svc.failRoles = true
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	p := newTestProvisioner(t, srv.URL)
	result, err := p.EnsureUser(context.Background(), "new@b.com", "pw")

	require.Error(t, err)
	assert.Equal(t, StateNotStarted, result.State)
	assert.NotContains(t, svc.calls, "create-user", "no account may be created after a failed prerequisite")
}

func TestEnsureUserReportsPartialProgress(t *testing.T) {
	svc := newFakeIdentityService()
	svc.failSetRoles = true
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	p := newTestProvisioner(t, srv.URL)
	result, err := p.EnsureUser(context.Background(), "new@b.com", "pw")

	require.Error(t, err)
	assert.Equal(t, StateAccountCreated, result.State)
	assert.Equal(t, "user-1", result.UserID)
	assert.NotContains(t, svc.calls, "set-attributes", "steps after the failure must not run")
}

func TestHealthy(t *testing.T) {
	svc := newFakeIdentityService()
	srv := httptest.NewServer(svc.handler())

	cfg := &remote.Config{
		BaseURL:    srv.URL,
		Timeout:    2 * time.Second,
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
	}
	c, err := NewClient(cfg, testTenant, hclog.NewNullLogger())
	require.NoError(t, err)

	assert.True(t, c.Healthy(context.Background()))

	srv.Close()
	assert.False(t, c.Healthy(context.Background()), "unreachable service reads as unhealthy, not as an error")
}
