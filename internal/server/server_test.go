package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"armory/internal/config"
	"armory/internal/db"
	"armory/internal/engine"
	"armory/internal/migrate"
)

const testSecret = "test-secret"

var legacyActor = map[string]string{"X-Actor-Id": "tony"}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mutateCfg func(*config.Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("stark-armory")
	if mutateCfg != nil {
		mutateCfg(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{
		JWTSecret:              testSecret,
		AllowLegacyActorHeader: true,
		EnableDevLogin:         true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return out
}

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected status %d, got %d: %s", res.Request.Method, res.Request.URL.Path, want, res.StatusCode, string(data))
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("unexpected health body %s", data)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/suits", nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
	envelope := decode[map[string]map[string]any](t, data)
	if envelope["error"]["code"] != "unauthorized" {
		t.Fatalf("unexpected error envelope %s", data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/suits", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestSuitLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	base := srv.URL + "/v0/suits"

	res, data := doJSON(t, client, http.MethodPost, base, map[string]any{"id": "mk42", "name": "Mark XLII", "version": 2}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	created := decode[SuitResponse](t, data)
	if created.ID != "mk42" || created.Version != 2 || created.Size != 0 || len(created.Armor) != 0 {
		t.Fatalf("unexpected created suit %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPost, base, map[string]any{"id": "mk42"}, legacyActor)
	expectStatus(t, res, data, http.StatusConflict)

	res, data = doJSON(t, client, http.MethodGet, base+"/mk42/armor/head", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	if head := decode[HeadResponse](t, data); head.Found || head.Armor != nil {
		t.Fatalf("expected empty head, got %s", data)
	}

	pushes := []map[string]any{
		{"kind": "chest_piece", "damaged": true, "power_remaining": 20, "version": 2},
		{"kind": "missiles", "count": 8, "version": 2},
		{"kind": "helmet", "damaged": true, "version": 1},
	}
	for _, body := range pushes {
		res, data = doJSON(t, client, http.MethodPost, base+"/mk42/armor", body, legacyActor)
		expectStatus(t, res, data, http.StatusCreated)
	}
	suit := decode[SuitResponse](t, data)
	if suit.Size != 3 || suit.Armor[0].Kind != "helmet" || suit.Armor[2].Kind != "chest_piece" {
		t.Fatalf("unexpected suit after pushes %+v", suit)
	}
	if suit.Armor[1].Count == nil || *suit.Armor[1].Count != 8 || suit.Armor[1].Damaged != nil {
		t.Fatalf("missiles should only carry a count: %+v", suit.Armor[1])
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/mk42/compatibility", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	if report := decode[CompatibilityResponse](t, data); report.Compatible || report.Size != 3 {
		t.Fatalf("version-1 helmet should be incompatible: %+v", report)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/mk42/repair", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	repair := decode[RepairResponse](t, data)
	if repair.Repaired != 1 {
		t.Fatalf("expected only the chest piece repaired, got %d", repair.Repaired)
	}
	chest := repair.Suit.Armor[2]
	if chest.Damaged == nil || *chest.Damaged || chest.PowerRemaining == nil || *chest.PowerRemaining != 100 {
		t.Fatalf("chest piece not repaired: %+v", chest)
	}
	if helmet := repair.Suit.Armor[0]; helmet.Damaged == nil || !*helmet.Damaged {
		t.Fatalf("helmet is not repairable: %+v", helmet)
	}

	res, data = doJSON(t, client, http.MethodDelete, base+"/mk42/armor/head", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	popped := decode[HeadResponse](t, data)
	if !popped.Found || popped.Armor.Kind != "helmet" || popped.Armor.Version != 1 {
		t.Fatalf("unexpected popped armor %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/mk42/compatibility", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	if report := decode[CompatibilityResponse](t, data); !report.Compatible || report.Size != 2 {
		t.Fatalf("expected compatible suit after pop: %+v", report)
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)
	if list := decode[[]SuitResponse](t, data); len(list) != 1 || list[0].Size != 2 {
		t.Fatalf("unexpected suit list %s", data)
	}

	res, data = doJSON(t, client, http.MethodDelete, base+"/mk42", nil, legacyActor)
	expectStatus(t, res, data, http.StatusNoContent)
	res, data = doJSON(t, client, http.MethodGet, base+"/mk42", nil, legacyActor)
	expectStatus(t, res, data, http.StatusNotFound)
}

func TestPushValidation(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits", map[string]any{"id": "mk1"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits/mk1/armor", map[string]any{"kind": "jetpack", "version": 1}, legacyActor)
	expectStatus(t, res, data, http.StatusBadRequest)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits/ghost/armor", map[string]any{"kind": "wifi", "version": 1}, legacyActor)
	expectStatus(t, res, data, http.StatusNotFound)
	envelope := decode[map[string]map[string]any](t, data)
	if envelope["error"]["code"] != "not_found" {
		t.Fatalf("unexpected error envelope %s", data)
	}
}

func TestDevLoginToken(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "pepper"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	token := decode[DevLoginResponse](t, data).Token
	auth := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, auth)
	expectStatus(t, res, data, http.StatusOK)
	if me := decode[WhoAmIResponse](t, data); me.ActorID != "pepper" || me.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits", map[string]any{"id": "rescue"}, auth)
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?suit_id=rescue", nil, auth)
	expectStatus(t, res, data, http.StatusOK)
	page := decode[paginatedEvents](t, data)
	if len(page.Items) != 1 || page.Items[0].ActorID != "pepper" || page.Items[0].Type != "suit.created" {
		t.Fatalf("unexpected events %s", data)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t, nil)
	_, plaintext, err := srv.Engine.Repo.CreateAPIKey(context.Background(), "happy", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": plaintext})
	expectStatus(t, res, data, http.StatusOK)
	if me := decode[WhoAmIResponse](t, data); me.ActorID != "happy" || me.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", me)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "ark_wrong"})
	expectStatus(t, res, data, http.StatusUnauthorized)
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits", map[string]any{"id": "mk5"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	for i := 0; i < 4; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits/mk5/armor", map[string]any{"kind": "wifi", "connected": true, "version": 1}, legacyActor)
		expectStatus(t, res, data, http.StatusCreated)
	}

	var seen []int64
	cursor := ""
	for {
		url := srv.URL + "/v0/events?limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, data = doJSON(t, client, http.MethodGet, url, nil, legacyActor)
		expectStatus(t, res, data, http.StatusOK)
		page := decode[paginatedEvents](t, data)
		for _, evt := range page.Items {
			seen = append(seen, evt.ID)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 events across pages, got %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] >= seen[i-1] {
			t.Fatalf("events should be newest first: %v", seen)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, legacyActor)
	expectStatus(t, res, data, http.StatusBadRequest)
}

func TestOpenAPIServed(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "/v0/suits/{suit_id}/armor/head") {
		t.Fatalf("openapi document missing armor routes")
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv := newTestServer(t, nil)
	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := range bodies {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) || len(bodies[i]) == 0 {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}

func TestWebhookDelivery(t *testing.T) {
	type delivery struct {
		Event  string
		Secret string
		Body   webhookEvent
	}
	received := make(chan delivery, 10)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&body)
		received <- delivery{Event: r.Header.Get("X-Armory-Event"), Secret: r.Header.Get("X-Armory-Secret"), Body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks = []config.WebhookConfig{{
			URL:    hook.URL,
			Events: []string{"suit.repaired"},
			Secret: "jarvis",
		}}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := StartWebhooks(ctx, srv.Engine, WebhookOptions{Interval: 20 * time.Millisecond})

	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits", map[string]any{"id": "mk7"}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits/mk7/armor", map[string]any{"kind": "left_repulsor", "damaged": true, "power_remaining": 5, "version": 1}, legacyActor)
	expectStatus(t, res, data, http.StatusCreated)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/suits/mk7/repair", nil, legacyActor)
	expectStatus(t, res, data, http.StatusOK)

	select {
	case got := <-received:
		if got.Event != "suit.repaired" || got.Secret != "jarvis" {
			t.Fatalf("unexpected delivery headers %+v", got)
		}
		if got.Body.SuitID != "mk7" || got.Body.ArmoryID != "stark-armory" || got.Body.ActorID != "tony" {
			t.Fatalf("unexpected delivery body %+v", got.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
	if err := stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case extra := <-received:
		t.Fatalf("only repair events should be delivered, got %+v", extra)
	default:
	}
}
