package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"messmate/pkg/bus"
	"messmate/pkg/calendar"
	"messmate/pkg/media"
	"messmate/pkg/push"
	"messmate/pkg/render"
	"messmate/services/accounts"
	"messmate/services/catalog"
	"messmate/services/notify"
	"messmate/services/reminders"
	"messmate/services/stats"
	"messmate/services/store"
	"messmate/services/store/storetest"
	"messmate/services/tokens"
	"messmate/services/verification"
)

var ist = time.FixedZone("IST", 19800)

type memMedia struct{ n int }

func (m *memMedia) Upload(_ context.Context, folder, filename, _ string, _ []byte) (media.Object, error) {
	m.n++
	id := folder + "/" + filename
	return media.Object{URL: "https://cdn.example/" + id, StorageID: id}, nil
}

func (m *memMedia) Destroy(context.Context, string) error { return nil }

type harness struct {
	t       *testing.T
	store   *store.Store
	tokens  *accounts.Tokens
	handler http.Handler
	ready   error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := storetest.New(t)
	storetest.Meal(t, s, "Paneer Butter Masala", 90)
	storetest.Meal(t, s, "Masala Dosa", 40)

	log := zerolog.Nop()
	cal := calendar.Fixed(ist, time.Date(2026, 10, 16, 13, 0, 0, 0, ist))
	broker := bus.NewMemory()
	t.Cleanup(broker.Close)

	engine, err := render.New()
	require.NoError(t, err)
	dispatcher := notify.New(s, push.Nop{}, engine, log)

	at := accounts.NewTokens("0123456789abcdef", time.Hour)
	m := &memMedia{}
	seq := tokens.NewSequencer(s, tokens.SequencerConfig{MaxAttempts: 3, Backoff: time.Millisecond}, log)
	workflow := verification.New(s, dispatcher, broker, cal, log)
	t.Cleanup(workflow.Wait)

	h := &harness{t: t, store: s, tokens: at}
	a, err := New(Services{
		Accounts:  accounts.New(s, m, at, nil, cal, accounts.Options{BcryptCost: bcrypt.MinCost}, log),
		Tokens:    at,
		Catalog:   catalog.New(s, m, broker, log),
		Issuer:    tokens.NewIssuer(s, seq, cal, tokens.Config{}, log),
		Workflow:  workflow,
		Stats:     stats.New(stats.StoreReader{Store: s}, cal),
		Reminders: reminders.New(s, dispatcher, broker, cal, log),
		Broker:    broker,
		Ready:     func(context.Context) error { return h.ready },
	}, Config{KeepAlive: 50 * time.Millisecond, VAPIDPublicKey: "BPub"}, log)
	require.NoError(t, err)
	h.handler = a.Routes()
	return h
}

func (h *harness) bearer(email, role string) string {
	h.t.Helper()
	tok, _, err := h.tokens.Issue(email, role)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h.ready = errors.New("db down")
	rec, _ = h.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, _ = h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := h.do(http.MethodGet, "/vapid-public-key", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BPub", body["publicKey"])

	rec, body = h.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestAuthorization(t *testing.T) {
	h := newHarness(t)
	storetest.Student(t, h.store, "asha@vvce.ac.in", "Asha")
	checkout := map[string]any{"email": "asha@vvce.ac.in", "orders": []map[string]any{{"mealName": "Masala Dosa"}}}

	rec, body := h.do(http.MethodPost, "/checkout", "", checkout)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "error": "authentication required"}, body)

	rec, _ = h.do(http.MethodPost, "/checkout", "garbage", checkout)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(http.MethodPost, "/checkout", h.bearer("ravi@vvce.ac.in", store.RoleStudent), checkout)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(http.MethodGet, "/producer/stats", h.bearer("asha@vvce.ac.in", store.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = h.do(http.MethodGet, "/user/asha@vvce.ac.in", h.bearer("canteen@vvce.ac.in", store.RoleProducer), nil)
	assert.Equal(t, http.StatusOK, rec.Code, "producers may read any user")
}

func TestOrderToVerificationOverHTTP(t *testing.T) {
	h := newHarness(t)
	storetest.Student(t, h.store, "asha@vvce.ac.in", "Asha")
	student := h.bearer("asha@vvce.ac.in", store.RoleStudent)
	producer := h.bearer("canteen@vvce.ac.in", store.RoleProducer)

	rec, body := h.do(http.MethodPost, "/checkout", student, map[string]any{
		"email":  "asha@vvce.ac.in",
		"orders": []map[string]any{{"mealName": "Paneer Butter Masala"}, {"mealName": "Masala Dosa"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "1", body["token"])
	assert.EqualValues(t, 130, body["totalAmount"])

	rec, body = h.do(http.MethodPost, "/pay", student, map[string]any{"email": "asha@vvce.ac.in"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(body["qrCode"].(string), "data:image/png;base64,"))

	rec, body = h.do(http.MethodGet, "/token/1", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "created", body["state"])

	rec, body = h.do(http.MethodPost, "/verify-token-payment", producer, map[string]any{"token": 1, "amount": 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "amount mismatch")
	assert.Equal(t, false, body["success"])

	rec, _ = h.do(http.MethodPost, "/verify-token-payment", producer, map[string]any{"token": 1, "amount": 130})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = h.do(http.MethodPost, "/check-verified", producer, map[string]any{"userEmail": "asha@vvce.ac.in"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["verified"])

	rec, body = h.do(http.MethodPost, "/verify", producer, map[string]any{"userEmail": "asha@vvce.ac.in", "date": "2026-10-16"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1", body["token"])
	assert.Len(t, body["meals"], 2)

	rec, body = h.do(http.MethodPost, "/verify", producer, map[string]any{"userEmail": "asha@vvce.ac.in", "date": "2026-10-16"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already verified", body["error"])

	rec, body = h.do(http.MethodPost, "/checkout", student, map[string]any{
		"email":  "asha@vvce.ac.in",
		"orders": []map[string]any{{"mealName": "Masala Dosa"}},
	})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "orders for today are already verified", body["error"])

	rec, body = h.do(http.MethodGet, "/producer/stats?period=day", producer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.EqualValues(t, 2, body["paid"])
	assert.EqualValues(t, 2, body["verified"])

	rec, _ = h.do(http.MethodGet, "/producer/stats?period=fortnight", producer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterValidationFields(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(http.MethodPost, "/register", "", map[string]any{"name": "Ravi", "email": "not-an-email", "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "email")

	rec, body = h.do(http.MethodPost, "/register", "", map[string]any{"name": "Ravi", "email": "ravi@vvce.ac.in", "password": "secret1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["accessToken"])

	rec, body = h.do(http.MethodPost, "/login", "", map[string]any{"email": "ravi@vvce.ac.in", "password": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid email or password", body["error"])

	rec, _ = h.do(http.MethodPost, "/auth/google", "", map[string]any{"token": "x"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{"))
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestCreateMealMultipart(t *testing.T) {
	h := newHarness(t)
	producer := h.bearer("canteen@vvce.ac.in", store.RoleProducer)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "Veg Biryani"))
	require.NoError(t, mw.WriteField("price", "80"))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="biryani.png"`)
	hdr.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n0000"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/meals", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+producer)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body := h.do(http.MethodGet, "/meal/Veg%20Biryani", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://cdn.example/meals/biryani.png", body["image"])
	assert.EqualValues(t, 80, body["price"])

	rec, _ = h.do(http.MethodPut, "/meals/not-a-uuid", producer, map[string]any{"price": 85})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRatingsStream(t *testing.T) {
	h := newHarness(t)
	storetest.Student(t, h.store, "asha@vvce.ac.in", "Asha")
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/ratings", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", first)

	rec, _ := h.do(http.MethodPost, "/rate", h.bearer("asha@vvce.ac.in", store.RoleStudent),
		map[string]any{"email": "asha@vvce.ac.in", "mealName": "Masala Dosa", "rating": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev bus.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		assert.Equal(t, catalog.EventRatingUpdated, ev.Type)
		return
	}
}

func TestProducerStreamRequiresProducer(t *testing.T) {
	h := newHarness(t)

	rec, _ := h.do(http.MethodGet, "/sse/producer", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = h.do(http.MethodGet, "/sse/producer?access_token="+h.bearer("asha@vvce.ac.in", store.RoleStudent), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
