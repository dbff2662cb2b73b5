package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	graphql "github.com/graph-gophers/graphql-go"

	"booklending/internal/ratelimit"
	"booklending/pkg/auth"
	"booklending/pkg/domain"
	"booklending/pkg/store"
	"booklending/services/lending/internal/app"
	"booklending/services/lending/internal/authgate"
	"booklending/services/lending/internal/lending"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "Correct-Horse-42"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.MemoryStore
	app   *app.App
	gate  *authgate.Gate
}

func newTestEnv(t *testing.T, revoker store.TokenRevoker, limiter Limiter) testEnv {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	_ = s.SaveAuthor(ctx, domain.Author{ID: "a1", Name: "Ursula K. Le Guin"})
	_ = s.SaveBook(ctx, domain.Book{ID: "b1", Title: "A Wizard of Earthsea", AuthorID: "a1"})
	_ = s.SaveBook(ctx, domain.Book{ID: "b2", Title: "The Dispossessed", AuthorID: "a1"})
	_ = s.SaveUser(ctx, domain.User{ID: "u1", Username: "ada", PasswordHash: hash})
	_ = s.SaveUser(ctx, domain.User{ID: "u2", Username: "grace", PasswordHash: hash})

	if revoker == nil {
		revoker = store.NewMemoryTokenRevoker()
	}
	sessions, err := store.NewJWTSessionStore(testSecret, time.Hour, revoker, store.JWTOptions{})
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	a, err := app.New(app.Config{Catalog: s, Identity: s, Sessions: sessions})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	gate := authgate.New(sessions, s)
	srv, err := New(Config{App: a, Gate: gate, RateLimiter: limiter})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return testEnv{srv: ts, store: s, app: a, gate: gate}
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (e testEnv) post(t *testing.T, token, query string, vars map[string]any) (int, gqlResponse) {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"query": query, "variables": vars})
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/graphql", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post graphql: %v", err)
	}
	defer resp.Body.Close()
	var out gqlResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode, out
}

func decodeField(t *testing.T, res gqlResponse, field string, v any) {
	t.Helper()
	raw, ok := res.Data[field]
	if !ok {
		t.Fatalf("missing field %q in %+v", field, res)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", field, err)
	}
}

type bookView struct {
	ID       string `json:"_id"`
	Title    string `json:"title"`
	IsBooked bool   `json:"isBooked"`
}

type updateView struct {
	Success bool       `json:"success"`
	Message *string    `json:"message"`
	Books   []bookView `json:"books"`
}

const loginMutation = `mutation($u: String!, $p: String!) { login(username: $u, password: $p) { _id username token } }`

func (e testEnv) login(t *testing.T, username string) string {
	t.Helper()
	status, res := e.post(t, "", loginMutation, map[string]any{"u": username, "p": testPassword})
	if status != http.StatusOK || len(res.Errors) > 0 {
		t.Fatalf("login failed: status=%d errors=%+v", status, res.Errors)
	}
	var user struct {
		ID    string `json:"_id"`
		Token string `json:"token"`
	}
	decodeField(t, res, "login", &user)
	if !strings.HasPrefix(user.Token, "Bearer ") {
		t.Fatalf("unexpected token %q", user.Token)
	}
	return user.Token
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("unexpected healthz response: %d headers=%v", resp.StatusCode, resp.Header)
	}
}

func TestGraphQLRejectsGet(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	resp, err := http.Get(env.srv.URL + "/graphql")
	if err != nil {
		t.Fatalf("get graphql: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestBooksQueryResolvesAuthors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	status, res := env.post(t, "", `{ books { _id title isBooked author { _id name books { _id } } } }`, nil)
	if status != http.StatusOK || len(res.Errors) > 0 {
		t.Fatalf("books query failed: %d %+v", status, res.Errors)
	}
	var books []struct {
		ID     string `json:"_id"`
		Author struct {
			Name  string     `json:"name"`
			Books []bookView `json:"books"`
		} `json:"author"`
	}
	decodeField(t, res, "books", &books)
	if len(books) != 2 || books[0].ID != "b1" || books[0].Author.Name != "Ursula K. Le Guin" || len(books[0].Author.Books) != 2 {
		t.Fatalf("unexpected books: %+v", books)
	}
}

func TestBookQueryNotFound(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, res := env.post(t, "", `query($id: ID!) { book(id: $id) { _id } }`, map[string]any{"id": "missing"})
	if len(res.Errors) != 1 || res.Errors[0].Message != app.ErrBookNotFound.Error() {
		t.Fatalf("expected book not found error, got %+v", res.Errors)
	}
	if string(res.Data["book"]) != "null" {
		t.Fatalf("expected null book, got %s", res.Data["book"])
	}
}

func TestMeIsNullWhenAnonymous(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for _, token := range []string{"", "Bearer garbage"} {
		status, res := env.post(t, token, `{ me { _id } }`, nil)
		if status != http.StatusOK || len(res.Errors) > 0 || string(res.Data["me"]) != "null" {
			t.Fatalf("token %q: expected null me without errors, got %d %+v", token, status, res)
		}
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_, unknown := env.post(t, "", loginMutation, map[string]any{"u": "nobody", "p": testPassword})
	_, wrong := env.post(t, "", loginMutation, map[string]any{"u": "ada", "p": "Wrong-Password-1"})
	if len(unknown.Errors) != 1 || len(wrong.Errors) != 1 {
		t.Fatalf("expected one error each: %+v %+v", unknown.Errors, wrong.Errors)
	}
	if unknown.Errors[0].Message != wrong.Errors[0].Message || unknown.Errors[0].Message != app.ErrInvalidCredentials.Error() {
		t.Fatalf("login errors must be identical: %q vs %q", unknown.Errors[0].Message, wrong.Errors[0].Message)
	}
}

func TestBorrowReturnFlow(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ada := env.login(t, "ada")
	grace := env.login(t, "grace")

	const borrow = `mutation($ids: [ID!]!) { borrowBooks(bookIds: $ids) { success message books { _id isBooked } } }`
	const giveBack = `mutation($id: ID!) { returnBook(bookId: $id) { success message books { _id isBooked } } }`

	_, res := env.post(t, ada, borrow, map[string]any{"ids": []string{"b1"}})
	var upd updateView
	decodeField(t, res, "borrowBooks", &upd)
	if !upd.Success || len(upd.Books) != 1 || !upd.Books[0].IsBooked {
		t.Fatalf("ada borrow: %+v", upd)
	}

	_, res = env.post(t, grace, borrow, map[string]any{"ids": []string{"b1", "b2"}})
	decodeField(t, res, "borrowBooks", &upd)
	if upd.Success || len(upd.Books) != 1 || upd.Books[0].ID != "b2" || upd.Message == nil || !strings.HasSuffix(*upd.Message, "b1") {
		t.Fatalf("grace partial borrow: %+v", upd)
	}

	_, res = env.post(t, grace, giveBack, map[string]any{"id": "b1"})
	decodeField(t, res, "returnBook", &upd)
	if upd.Success {
		t.Fatalf("grace must not return ada's book: %+v", upd)
	}

	_, res = env.post(t, ada, `{ me { username books { _id } } }`, nil)
	var me struct {
		Username string     `json:"username"`
		Books    []bookView `json:"books"`
	}
	decodeField(t, res, "me", &me)
	if me.Username != "ada" || len(me.Books) != 1 || me.Books[0].ID != "b1" {
		t.Fatalf("unexpected me: %+v", me)
	}

	_, res = env.post(t, ada, giveBack, map[string]any{"id": "b1"})
	decodeField(t, res, "returnBook", &upd)
	if !upd.Success || len(upd.Books) != 1 || upd.Books[0].IsBooked {
		t.Fatalf("ada return: %+v", upd)
	}

	_, res = env.post(t, "", borrow, map[string]any{"ids": []string{"b1"}})
	decodeField(t, res, "borrowBooks", &upd)
	if upd.Success || len(upd.Books) != 0 {
		t.Fatalf("anonymous borrow must fail: %+v", upd)
	}
	b1, _, _ := env.store.GetBook(context.Background(), "b1")
	if b1.IsBooked {
		t.Fatalf("b1 should be available")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	token := env.login(t, "ada")

	_, res := env.post(t, token, `mutation { logout }`, nil)
	var ok bool
	decodeField(t, res, "logout", &ok)
	if !ok {
		t.Fatalf("logout should report true")
	}
	_, res = env.post(t, token, `{ me { _id } }`, nil)
	if string(res.Data["me"]) != "null" {
		t.Fatalf("revoked token must be anonymous, got %s", res.Data["me"])
	}
}

func TestRevokerOutageIsInternalError(t *testing.T) {
	mr := miniredis.RunT(t)
	revoker := store.NewRedisTokenRevoker(mr.Addr(), "")
	t.Cleanup(func() { _ = revoker.Close() })
	env := newTestEnv(t, revoker, nil)
	token := env.login(t, "ada")
	mr.Close()

	status, _ := env.post(t, token, `{ me { _id } }`, nil)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected 500 on revoker outage, got %d", status)
	}
}

func TestGraphQLRateLimitPerIP(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:graphql", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	env := newTestEnv(t, nil, limiter)

	if status, _ := env.post(t, "", `{ books { _id } }`, nil); status != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", status)
	}
	if status, _ := env.post(t, "", `{ books { _id } }`, nil); status != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", status)
	}
}

func TestBorrowBooksKeepsEnvelopeWhenCancelled(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	token := env.login(t, "ada")
	viewer, err := env.gate.Authenticate(context.Background(), token)
	if err != nil || viewer.IsAnonymous() {
		t.Fatalf("authenticate: %+v %v", viewer, err)
	}
	ctx, cancel := context.WithCancel(authgate.WithViewer(context.Background(), viewer))
	cancel()

	root := &rootResolver{app: env.app}
	res, err := root.BorrowBooks(ctx, struct{ BookIDs []graphql.ID }{BookIDs: []graphql.ID{"b1", "b2"}})
	if err != nil {
		t.Fatalf("cancelled borrow must keep the envelope: %v", err)
	}
	if res.Success() || res.Message() == nil || *res.Message() != lending.MsgBorrowFailed+"b1, b2" {
		t.Fatalf("unexpected envelope: success=%v message=%v", res.Success(), res.Message())
	}
	if len(res.Books()) != 0 {
		t.Fatalf("nothing should be borrowed after cancellation: %d books", len(res.Books()))
	}
	book, _, _ := env.store.GetBook(context.Background(), "b1")
	if book.IsBooked {
		t.Fatalf("b1 must stay available")
	}
}
