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

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/engine"
	"missionline/internal/events"
	"missionline/internal/migrate"
	"missionline/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default(), nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
	})
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
	return testSrv, func() { testSrv.Close() }
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

func login(t *testing.T, srv *testServer, actor string, roles ...string) map[string]string {
	t.Helper()
	body := map[string]any{"actor_id": actor}
	if len(roles) > 0 {
		body["roles"] = roles
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", body, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func fixedMission() map[string]any {
	return map[string]any{
		"model":        "fixed",
		"platform":     "twitter",
		"type":         "engage",
		"tasks":        []string{"like", "retweet"},
		"cap":          100,
		"instructions": "Like and retweet the pinned post",
	}
}

func TestMetadataIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/catalog", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog status %d: %s", res.StatusCode, string(data))
	}
	var catalog CatalogResponse
	if err := json.Unmarshal(data, &catalog); err != nil {
		t.Fatalf("unmarshal catalog: %v", err)
	}
	if catalog.MinFixedCap != 60 || catalog.HonorsPerUSD != 450 || catalog.PremiumMultiplier != 5 {
		t.Fatalf("unexpected constants: %+v", catalog)
	}
	if len(catalog.FixedCapTiers) != 3 || catalog.FixedCapTiers[0] != 100 {
		t.Fatalf("unexpected tiers: %v", catalog.FixedCapTiers)
	}
	var like int64
	for _, p := range catalog.Platforms {
		if p.Platform != "twitter" {
			continue
		}
		for _, typ := range p.Types {
			for _, task := range typ.Tasks {
				if typ.Type == "engage" && task.ID == "like" {
					like = task.PriceHonors
				}
			}
		}
	}
	if like != 50 {
		t.Fatalf("expected twitter/engage/like at 50, got %d", like)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/degen/presets", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("presets status %d: %s", res.StatusCode, string(data))
	}
	var presets PresetsResponse
	if err := json.Unmarshal(data, &presets); err != nil {
		t.Fatalf("unmarshal presets: %v", err)
	}
	if len(presets.Items) != 16 || presets.Items[0].Hours != 1 || presets.Items[15].Hours != 720 {
		t.Fatalf("unexpected presets: %+v", presets.Items)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/degen/validate", map[string]any{"duration_hours": 8, "winners_cap": 3}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("degen validate status %d: %s", res.StatusCode, string(data))
	}
	var check DegenValidateResponse
	if err := json.Unmarshal(data, &check); err != nil {
		t.Fatalf("unmarshal degen check: %v", err)
	}
	if !check.IsValid {
		t.Fatalf("expected 8h/3 winners to be valid: %+v", check)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", fixedMission(), nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Code; code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %s", code)
	}
}

func TestCreateMissionReprices(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	body := fixedMission()
	body["client_quote"] = map[string]any{"total_cost_usd": 1, "total_cost_honors": 450}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", body, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created MissionResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal mission: %v", err)
	}
	if created.ID == "" || created.CreatorID != "alice" || created.Status != "active" {
		t.Fatalf("unexpected mission: %+v", created)
	}
	if created.Pricing.TotalCostHonors != 15000 || created.Pricing.PerUserHonors != 150 || created.Pricing.TotalCostUSD != 33.33 {
		t.Fatalf("unexpected pricing: %+v", created.Pricing)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions/"+created.ID, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}

	bob := login(t, srv, "bob")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions/"+created.ID, nil, bob)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another creator, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions", nil, bob)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed paginatedMissions
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed.Items) != 0 {
		t.Fatalf("expected bob to see no missions, got %d", len(listed.Items))
	}

	admin := login(t, srv, "root", RoleAdmin)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type="+events.PriceDivergence, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var evts paginatedEvents
	if err := json.Unmarshal(data, &evts); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evts.Items) != 1 || evts.Items[0].EntityID != created.ID {
		t.Fatalf("expected one divergence event for %s, got %+v", created.ID, evts.Items)
	}
}

func TestListMissionsFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", fixedMission(), alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	cases := map[string]int{
		"?model=fixed&platform=twitter": 1,
		"?model=degen":                  0,
		"?platform=tiktok":              0,
		"":                              1,
	}
	for query, want := range cases {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/missions"+query, nil, alice)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("list %q status %d: %s", query, res.StatusCode, string(data))
		}
		var listed paginatedMissions
		if err := json.Unmarshal(data, &listed); err != nil {
			t.Fatalf("unmarshal list: %v", err)
		}
		if len(listed.Items) != want {
			t.Fatalf("list %q: expected %d missions, got %d", query, want, len(listed.Items))
		}
	}
}

func TestCreateMissionValidationErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	body := fixedMission()
	body["cap"] = 59
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", body, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for low cap, got %d %s", res.StatusCode, string(data))
	}
	apiErr := decodeError(t, data)
	if apiErr.Code != "validation_failed" || apiErr.Details["cap"] != "cap must be at least 60" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}

	body = fixedMission()
	body["cap"] = 1000001
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", body, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized cap, got %d %s", res.StatusCode, string(data))
	}
	if msg := decodeError(t, data).Details["cap"]; msg != "cap must be at most 1000000" {
		t.Fatalf("unexpected cap message: %v", msg)
	}

	body = fixedMission()
	body["tasks"] = []string{"like", "dance"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", body, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown task, got %d %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Code; code != "unknown_task" {
		t.Fatalf("expected unknown_task, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", map[string]any{
		"model":          "degen",
		"platform":       "twitter",
		"type":           "engage",
		"tasks":          []string{"like"},
		"duration_hours": 999,
		"winners_cap":    1,
		"instructions":   "Like the pinned post",
	}, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown duration, got %d %s", res.StatusCode, string(data))
	}
	if msg := decodeError(t, data).Details["duration_hours"]; msg != "Invalid duration: 999 hours" {
		t.Fatalf("unexpected duration message: %v", msg)
	}

	missions, err := srv.Engine.ListMissions(context.Background(), repo.MissionFilters{CreatorID: "alice"})
	if err != nil {
		t.Fatalf("list missions: %v", err)
	}
	if len(missions) != 0 {
		t.Fatalf("expected no missions after rejected requests, got %d", len(missions))
	}
}

func TestQuoteAndDegenValidate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	body := fixedMission()
	body["is_premium"] = true
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/pricing/quote", body, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("quote status %d: %s", res.StatusCode, string(data))
	}
	var quote PricingResponse
	if err := json.Unmarshal(data, &quote); err != nil {
		t.Fatalf("unmarshal quote: %v", err)
	}
	if quote.PerUserHonors != 750 || quote.TotalCostHonors != 75000 {
		t.Fatalf("unexpected premium quote: %+v", quote)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/pricing/quote", map[string]any{
		"model":          "degen",
		"platform":       "twitter",
		"type":           "engage",
		"audience":       "premium",
		"tasks":          []string{"like"},
		"duration_hours": 8,
		"winners_cap":    3,
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("degen quote status %d: %s", res.StatusCode, string(data))
	}
	quote = PricingResponse{}
	if err := json.Unmarshal(data, &quote); err != nil {
		t.Fatalf("unmarshal degen quote: %v", err)
	}
	if quote.TotalCostUSD != 750 || quote.UserPoolHonors != 168750 || quote.PerWinnerHonors != 56250 {
		t.Fatalf("unexpected degen quote: %+v", quote)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/degen/validate", map[string]any{
		"duration_hours": 1,
		"winners_cap":    5,
	}, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("degen validate status %d: %s", res.StatusCode, string(data))
	}
	var check DegenValidateResponse
	if err := json.Unmarshal(data, &check); err != nil {
		t.Fatalf("unmarshal degen check: %v", err)
	}
	if check.IsValid || !strings.Contains(check.Error, "between 1 and 1") || check.Field != "winners_cap" {
		t.Fatalf("unexpected degen check: %+v", check)
	}
}

func TestWizardSessionFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/wizard/sessions", nil, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status %d: %s", res.StatusCode, string(data))
	}
	var state WizardStateResponse
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.ID == "" || state.CurrentStep != 1 || state.StepName != "platform" {
		t.Fatalf("unexpected initial state: %+v", state)
	}
	actionsURL := srv.URL + "/v1/wizard/sessions/" + state.ID + "/actions"

	res, data = doJSON(t, client, http.MethodPost, actionsURL, map[string]any{"action": "next"}, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected blocked next, got %d %s", res.StatusCode, string(data))
	}
	if code := decodeError(t, data).Code; code != "step_incomplete" {
		t.Fatalf("expected step_incomplete, got %s", code)
	}

	steps := []map[string]any{
		{"action": "set_platform", "value": "twitter"},
		{"action": "set_model", "value": "fixed"},
		{"action": "set_type", "value": "engage"},
		{"action": "set_tasks", "values": []string{"like", "retweet"}},
		{"action": "next"},
		{"action": "set_cap", "number": 100},
		{"action": "next"},
		{"action": "set_details", "instructions": "Like and retweet the pinned post"},
		{"action": "next"},
	}
	for _, step := range steps {
		res, data = doJSON(t, client, http.MethodPost, actionsURL, step, alice)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("action %v status %d: %s", step, res.StatusCode, string(data))
		}
	}
	state = WizardStateResponse{}
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state.CurrentStep != 7 || !state.StepValidation["review"] {
		t.Fatalf("expected valid review step, got %+v", state)
	}
	if state.Pricing == nil || state.Pricing.TotalCostHonors != 15000 {
		t.Fatalf("expected live price 15000, got %+v", state.Pricing)
	}

	bob := login(t, srv, "bob")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/wizard/sessions/"+state.ID, nil, bob)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for another owner, got %d %s", res.StatusCode, string(data))
	}

	submitURL := srv.URL + "/v1/wizard/sessions/" + state.ID + "/submit"
	res, data = doJSON(t, client, http.MethodPost, submitURL, nil, alice)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted WizardSubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Mission.CreatorID != "alice" || submitted.Mission.Pricing.TotalCostHonors != 15000 {
		t.Fatalf("unexpected mission: %+v", submitted.Mission)
	}
	if submitted.State.CurrentStep != 1 || submitted.State.Fields.Platform != "" {
		t.Fatalf("expected reset wizard, got %+v", submitted.State)
	}

	res, data = doJSON(t, client, http.MethodPost, submitURL, nil, alice)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected not_ready after reset, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/wizard/sessions/"+state.ID, nil, alice)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/wizard/sessions/"+state.ID, nil, alice)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d %s", res.StatusCode, string(data))
	}
}

func TestEventsRequireAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events", nil, alice)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}

	for i := 0; i < 3; i++ {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/missions", fixedMission(), alice)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create status %d: %s", res.StatusCode, string(data))
		}
	}
	admin := login(t, srv, "root", RoleAdmin)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=2", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=2&cursor="+page.NextCursor, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal events page 2: %v", err)
	}
	if len(next.Items) != 1 || next.NextCursor != "" || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("unexpected second page: %+v", next)
	}
	if next.Items[0].Type != events.MissionCreated || next.Items[0].Payload["model"] != "fixed" {
		t.Fatalf("unexpected event: %+v", next.Items[0])
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	alice := login(t, srv, "alice")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{"name": "ci"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if !strings.HasPrefix(key.Key, "ml_") {
		t.Fatalf("unexpected key format: %s", key.Key)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "alice" || who.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", who)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": "ml_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad key, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(data))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "go_goroutines") {
		t.Fatalf("expected default collectors in metrics output")
	}
}

func TestWebhookDispatcherDelivers(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-Missionline-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{events.MissionCreated},
		Secret: "s3cret",
	}}, nil)
	if !d.Enabled() {
		t.Fatalf("expected dispatcher to be enabled")
	}
	// First round pins the cursor at the current head.
	d.DispatchAll(ctx)

	alice := login(t, srv, "alice")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/missions", fixedMission(), alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/api-keys", map[string]any{"name": "ignored"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key status %d: %s", res.StatusCode, string(data))
	}
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].Type != events.MissionCreated || got[0].ActorID != "alice" || secrets[0] != "s3cret" {
		t.Fatalf("unexpected delivery: %+v (secret %q)", got[0], secrets[0])
	}
}

func TestDisabledWebhooks(t *testing.T) {
	off := false
	d := NewWebhookDispatcher(repo.Repo{}, []config.WebhookConfig{
		{URL: "http://127.0.0.1:1/hook", Enabled: &off},
		{URL: "  "},
	}, nil)
	if d.Enabled() {
		t.Fatalf("expected dispatcher to be disabled")
	}
}
