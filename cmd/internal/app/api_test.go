package app

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "pulse/contracts/feed/v1"
	"pulse/cmd/internal/feed"
	"pulse/cmd/internal/notify"
)

// tokenAsUser treats the raw bearer token as the user id.
type tokenAsUser struct{}

func (tokenAsUser) Verify(token string, _ time.Time) (string, error) {
	if strings.HasPrefix(token, "bad") {
		return "", errors.New("rejected")
	}
	return token, nil
}

func newTestAPI(t *testing.T) (*httptest.Server, *feed.Replay) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := notify.NewService(log, notify.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	replay := feed.NewReplay(64)

	mux := http.NewServeMux()
	newAPIHandler(log, tokenAsUser{}, svc, replay).register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, replay
}

func apiDo(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeDTO(t *testing.T, resp *http.Response) notificationDTO {
	t.Helper()
	var dto notificationDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return dto
}

func TestAPI_RequiresAuth(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)

	if resp := apiDo(t, http.MethodGet, srv.URL+"/notifications", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d want=401", resp.StatusCode)
	}
	if resp := apiDo(t, http.MethodGet, srv.URL+"/notifications", "bad-token", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("rejected token: status=%d want=401", resp.StatusCode)
	}
	if resp := apiDo(t, http.MethodGet, srv.URL+"/feed/events", "", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("events without token: status=%d want=401", resp.StatusCode)
	}
}

func TestAPI_NotificationLifecycle(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)

	resp := apiDo(t, http.MethodPost, srv.URL+"/notifications", "user-1", `{"message":"task assigned"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status=%d want=201", resp.StatusCode)
	}
	created := decodeDTO(t, resp)
	if created.ID == "" || created.UserID != "user-1" || created.Message != "task assigned" {
		t.Fatalf("created dto wrong: %+v", created)
	}

	resp = apiDo(t, http.MethodGet, srv.URL+"/notifications", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status=%d want=200", resp.StatusCode)
	}
	var rows []notificationDTO
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != created.ID {
		t.Fatalf("list wrong: %+v", rows)
	}

	// Another user sees nothing.
	resp = apiDo(t, http.MethodGet, srv.URL+"/notifications", "user-2", "")
	var other []notificationDTO
	if err := json.NewDecoder(resp.Body).Decode(&other); err != nil {
		t.Fatalf("decode other list: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("cross-user leak: %+v", other)
	}

	resp = apiDo(t, http.MethodPost, srv.URL+"/notifications/"+created.ID+"/toggle", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle: status=%d want=200", resp.StatusCode)
	}
	if dto := decodeDTO(t, resp); !dto.IsRead {
		t.Fatalf("toggle must flip is_read")
	}

	resp = apiDo(t, http.MethodPost, srv.URL+"/notifications/read-all", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read-all: status=%d want=200", resp.StatusCode)
	}

	resp = apiDo(t, http.MethodDelete, srv.URL+"/notifications/"+created.ID, "user-1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status=%d want=204", resp.StatusCode)
	}

	resp = apiDo(t, http.MethodDelete, srv.URL+"/notifications/"+created.ID, "user-1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete: status=%d want=404", resp.StatusCode)
	}

	resp = apiDo(t, http.MethodDelete, srv.URL+"/notifications", "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete-all: status=%d want=200", resp.StatusCode)
	}
}

func TestAPI_ValidationErrors(t *testing.T) {
	t.Parallel()

	srv, _ := newTestAPI(t)

	if resp := apiDo(t, http.MethodPost, srv.URL+"/notifications", "user-1", `{"message":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message: status=%d want=400", resp.StatusCode)
	}
	if resp := apiDo(t, http.MethodPost, srv.URL+"/notifications", "user-1", `{broken`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("broken body: status=%d want=400", resp.StatusCode)
	}
	if resp := apiDo(t, http.MethodGet, srv.URL+"/notifications?limit=nope", "user-1", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: status=%d want=400", resp.StatusCode)
	}
	if resp := apiDo(t, http.MethodGet, srv.URL+"/feed/events?since=yesterday", "user-1", ""); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since: status=%d want=400", resp.StatusCode)
	}
}

func TestAPI_EventsReplay(t *testing.T) {
	t.Parallel()

	srv, replay := newTestAPI(t)
	base := time.Now().UTC()

	payload, err := json.Marshal(v1.NotificationPayload{NotificationID: "n1", UserID: "user-1"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	replay.Record(v1.Envelope{
		V:       v1.Version,
		Topic:   v1.TopicNotificationCreated,
		ID:      "n1",
		TS:      base.Add(time.Second),
		Payload: payload,
	})

	url := srv.URL + "/feed/events?since=" + base.Format(time.RFC3339Nano)
	resp := apiDo(t, http.MethodGet, url, "user-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events: status=%d want=200", resp.StatusCode)
	}
	var envs []v1.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(envs) != 1 || envs[0].ID != "n1" {
		t.Fatalf("events wrong: %+v", envs)
	}

	// Cursor past the event: an empty JSON array, never null.
	url = srv.URL + "/feed/events?since=" + base.Add(time.Minute).Format(time.RFC3339Nano)
	resp = apiDo(t, http.MethodGet, url, "user-1", "")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("empty window body=%q want=[]", body)
	}
}
