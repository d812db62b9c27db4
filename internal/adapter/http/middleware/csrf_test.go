package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "csrf-test-secret"

func csrfCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName {
			return c
		}
	}
	return nil
}

func TestCSRF_GETIssuesCookieAndContextToken(t *testing.T) {
	c := NewCSRF([]byte(testSecret))

	var seen string
	handler := c.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CSRFToken(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	cookie := csrfCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, cookie.Value, seen, "the token rendered into forms matches the cookie on first visit")
	assert.True(t, c.Valid(seen))
}

func TestCSRF_ExistingCookieReused(t *testing.T) {
	c := NewCSRF([]byte(testSecret))
	token := c.NewToken()

	var seen string
	handler := c.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CSRFToken(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Nil(t, csrfCookie(rec))
	assert.Equal(t, token, seen)
}

func TestCSRF_ForgedCookieReplaced(t *testing.T) {
	c := NewCSRF([]byte(testSecret))
	forged := NewCSRF([]byte("other")).NewToken()

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: forged})
	rec := httptest.NewRecorder()
	c.Protect(okHandler()).ServeHTTP(rec, req)

	cookie := csrfCookie(rec)
	require.NotNil(t, cookie)
	assert.NotEqual(t, forged, cookie.Value)
}

func TestCSRF_UnsafeMethods(t *testing.T) {
	c := NewCSRF([]byte(testSecret))
	token := c.NewToken()
	other := c.NewToken()

	form := func(v string) *http.Request {
		body := url.Values{CSRFFormField: {v}}.Encode()
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name: "no cookie",
			req: func() *http.Request {
				return form(token)
			},
			status: http.StatusForbidden,
		},
		{
			name: "no submitted token",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/logout", nil)
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
				return req
			},
			status: http.StatusForbidden,
		},
		{
			name: "form token matches",
			req: func() *http.Request {
				req := form(token)
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
				return req
			},
			status: http.StatusOK,
		},
		{
			name: "header token matches",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodDelete, "/job/1", nil)
				req.Header.Set(CSRFHeaderName, token)
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
				return req
			},
			status: http.StatusOK,
		},
		{
			name: "mismatched tokens",
			req: func() *http.Request {
				req := form(other)
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})
				return req
			},
			status: http.StatusForbidden,
		},
		{
			name: "api key requests are exempt",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/job/analyse", nil)
				req.Header.Set("X-API-Key", "k")
				return req
			},
			status: http.StatusOK,
		},
		{
			name: "bearer requests are exempt",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodDelete, "/job/1", nil)
				req.Header.Set("Authorization", "Bearer k")
				return req
			},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c.Protect(okHandler()).ServeHTTP(rec, tt.req())
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCSRF_Valid(t *testing.T) {
	c := NewCSRF([]byte(testSecret))

	assert.True(t, c.Valid(c.NewToken()))
	assert.NotEqual(t, c.NewToken(), c.NewToken())
	assert.False(t, c.Valid(""))
	assert.False(t, c.Valid("not base64 !"))
	assert.False(t, c.Valid("c2hvcnQ"))
	assert.False(t, NewCSRF([]byte("other")).Valid(c.NewToken()))
}

func TestCSRF_EmptySecretIsRandomPerInstance(t *testing.T) {
	a := NewCSRF(nil)
	b := NewCSRF([]byte{})

	token := a.NewToken()
	assert.True(t, a.Valid(token))
	assert.False(t, b.Valid(token), "keyless instances must not share a key")
	assert.False(t, NewCSRF([]byte(testSecret)).Valid(token))
}

func TestCSRFToken_EmptyWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, CSRFToken(req.Context()))
}
