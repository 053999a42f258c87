package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/skycoin/skycoin/src/util/logging"
)

var log = logging.MustGetLogger("httputil")

// WriteJSON writes v as json with the given code. Errors are written as
// {"error": "..."}. The "pretty" query value indents the output.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	if pretty, _ := BoolFromQuery(r, "pretty", false); pretty { //nolint:errcheck
		enc.SetIndent("", "  ")
	}
	if err, ok := v.(error); ok {
		v = map[string]interface{}{"error": err.Error()}
	}
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write json response.")
	}
}

// BoolFromQuery obtains a boolean from a query entry.
func BoolFromQuery(r *http.Request, key string, defaultVal bool) (bool, error) {
	switch q := r.URL.Query().Get(key); q {
	case "true", "on", "1":
		return true, nil
	case "false", "off", "0":
		return false, nil
	case "":
		return defaultVal, nil
	default:
		return false, fmt.Errorf("invalid '%s' query value of '%s'", key, q)
	}
}

// IntFromQuery obtains a non-negative integer from a query entry.
func IntFromQuery(r *http.Request, key string, defaultVal int) (int, error) {
	q := r.URL.Query().Get(key)
	if q == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(q)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid '%s' query value of '%s'", key, q)
	}
	return v, nil
}
