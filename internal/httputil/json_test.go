package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name string
		url  string
		v    interface{}
		want string
	}{
		{"compact", "/", map[string]int{"a": 1}, "{\"a\":1}\n"},
		{"pretty", "/?pretty=true", map[string]int{"a": 1}, "{\n  \"a\": 1\n}\n"},
		{"error", "/", errors.New("boom"), "{\"error\":\"boom\"}\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, httptest.NewRequest(http.MethodGet, tc.url, nil), http.StatusTeapot, tc.v)
			assert.Equal(t, http.StatusTeapot, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tc.want, w.Body.String())
		})
	}
}

func TestFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?on=1&off=false&bad=maybe&n=7&neg=-1", nil)

	v, err := BoolFromQuery(r, "on", false)
	require.NoError(t, err)
	assert.True(t, v)
	v, err = BoolFromQuery(r, "off", true)
	require.NoError(t, err)
	assert.False(t, v)
	v, err = BoolFromQuery(r, "missing", true)
	require.NoError(t, err)
	assert.True(t, v)
	_, err = BoolFromQuery(r, "bad", false)
	assert.Error(t, err)

	n, err := IntFromQuery(r, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = IntFromQuery(r, "missing", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = IntFromQuery(r, "neg", 0)
	assert.Error(t, err)
	_, err = IntFromQuery(r, "bad", 0)
	assert.Error(t, err)
}
