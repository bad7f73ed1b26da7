package http

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/run-ci/conduit/store"
)

func gentoken(t *testing.T, secret []byte, sub string, ttl time.Duration) string {
	t.Helper()

	claims := &jwt.StandardClaims{
		Subject:   sub,
		IssuedAt:  time.Now().Unix(),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("got error signing test token: %v", err)
	}

	return ss
}

func TestCheckAuth(t *testing.T) {
	srv := NewServer(":9001", make(chan []byte), store.NewMemory(), "test")

	var gotsub string
	inner := func(rw http.ResponseWriter, req *http.Request) {
		gotsub = req.Context().Value(keyReqSub).(string)
		rw.WriteHeader(http.StatusOK)
	}

	handler := srv.checkAuth(inner)

	tests := []struct {
		desc   string
		header string
		status int
	}{
		{
			desc:   "valid token",
			header: "Bearer " + gentoken(t, []byte("test"), "user@test", time.Minute),
			status: http.StatusOK,
		},
		{
			desc:   "missing header",
			header: "",
			status: http.StatusUnauthorized,
		},
		{
			desc:   "header without token",
			header: "Bearer",
			status: http.StatusUnauthorized,
		},
		{
			desc:   "expired token",
			header: "Bearer " + gentoken(t, []byte("test"), "user@test", -time.Minute),
			status: http.StatusUnauthorized,
		},
		{
			desc:   "token signed with wrong secret",
			header: "Bearer " + gentoken(t, []byte("not-the-secret"), "user@test", time.Minute),
			status: http.StatusUnauthorized,
		},
	}

	for _, test := range tests {
		gotsub = ""

		req := httptest.NewRequest(http.MethodGet, "http://test/projects", nil)
		if test.header != "" {
			req.Header.Set("Authorization", test.header)
		}
		rw := httptest.NewRecorder()

		handler(rw, req)

		if rw.Result().StatusCode != test.status {
			t.Fatalf("%v: expected status %v, got %v",
				test.desc, test.status, rw.Result().StatusCode)
		}

		if test.status == http.StatusOK && gotsub != "user@test" {
			t.Fatalf("%v: expected subject user@test, got %q", test.desc, gotsub)
		}
	}
}

func TestHandleAuth(t *testing.T) {
	st := store.NewMemory()
	err := st.CreateUser(&store.User{Email: "user@test", Password: "swordfish"})
	if err != nil {
		t.Fatalf("got error seeding user: %v", err)
	}

	srv := NewServer(":9001", make(chan []byte), st, "test")

	payload, err := json.Marshal(map[string]string{
		"email":    "user@test",
		"password": "swordfish",
	})
	if err != nil {
		t.Fatalf("got error marshaling request payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://test/auth", bytes.NewBuffer(payload))
	req = req.WithContext(authedCtx(""))
	rw := httptest.NewRecorder()

	srv.handleAuth(rw, req)

	resp := rw.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %v, got %v", http.StatusOK, resp.StatusCode)
	}

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("got error reading response body: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]string
	err = json.Unmarshal(buf, &body)
	if err != nil {
		t.Fatalf("got error unmarshaling response body: %v", err)
	}

	keyfn := func(token *jwt.Token) (interface{}, error) {
		return []byte("test"), nil
	}

	token, err := jwt.ParseWithClaims(body["token"], &jwt.StandardClaims{}, keyfn)
	if err != nil {
		t.Fatalf("got error parsing issued token: %v", err)
	}

	claims := token.Claims.(*jwt.StandardClaims)
	if claims.Subject != "user@test" {
		t.Fatalf("expected token subject user@test, got %v", claims.Subject)
	}
}

func TestHandleAuthBadPassword(t *testing.T) {
	st := store.NewMemory()
	err := st.CreateUser(&store.User{Email: "user@test", Password: "swordfish"})
	if err != nil {
		t.Fatalf("got error seeding user: %v", err)
	}

	srv := NewServer(":9001", make(chan []byte), st, "test")

	payload, err := json.Marshal(map[string]string{
		"email":    "user@test",
		"password": "guess",
	})
	if err != nil {
		t.Fatalf("got error marshaling request payload: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://test/auth", bytes.NewBuffer(payload))
	req = req.WithContext(authedCtx(""))
	rw := httptest.NewRecorder()

	srv.handleAuth(rw, req)

	if rw.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status %v, got %v",
			http.StatusUnauthorized, rw.Result().StatusCode)
	}
}
