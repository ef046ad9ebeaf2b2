package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Pagination is the parsed ?limit=&offset= pair.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit (1..500, default 50) and offset (>= 0).
// Present but malformed values are an error rather than silently defaulted.
func ParsePagination(r *http.Request) (Pagination, error) {
	p := Pagination{Limit: defaultPageSize}
	var err error
	if p.Limit, err = intParam(r, "limit", defaultPageSize, 1, maxPageSize); err != nil {
		return p, err
	}
	if p.Offset, err = intParam(r, "offset", 0, 0, -1); err != nil {
		return p, err
	}
	return p, nil
}

// intParam parses name within [lo, hi]. A negative hi means unbounded.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: must be an integer", name, v)
	}
	if n < lo {
		return def, fmt.Errorf("invalid %s %d: must be >= %d", name, n, lo)
	}
	if hi >= 0 && n > hi {
		return def, fmt.Errorf("invalid %s %d: must be <= %d", name, n, hi)
	}
	return n, nil
}

// QueryInt returns the integer value of name, or false when missing or malformed.
func QueryInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0, false
	}
	return n, true
}

// QueryString returns the trimmed value of name, or false when empty.
func QueryString(r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	return v, v != ""
}

// QueryStringList splits a comma-separated parameter, dropping empty items.
func QueryStringList(r *http.Request, name string) []string {
	var out []string
	for _, s := range strings.Split(r.URL.Query().Get(name), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// maxBodyBytes bounds request bodies; quiz requests carry up to 30 transcripts.
const maxBodyBytes = 4 << 20

var errNoBody = errors.New("missing request body")

// DecodeJSON decodes the request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errNoBody
	}
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(v)
}
