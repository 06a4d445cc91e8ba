package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// replayedHeaders are copied from the first response into every replay.
var replayedHeaders = []string{"Content-Type", "Location"}

type storedResponse struct {
	Pending     bool              `json:"pending,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        []byte            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Fingerprint string            `json:"fingerprint"`
}

func pendingRecord(fingerprint string) storedResponse {
	return storedResponse{Pending: true, Fingerprint: fingerprint}
}

func (s storedResponse) encode() string {
	// Only plain fields; Marshal cannot fail.
	b, _ := json.Marshal(s)
	return string(b)
}

func decodeRecord(raw string) (storedResponse, error) {
	var s storedResponse
	err := json.Unmarshal([]byte(raw), &s)
	return s, err
}

func (s storedResponse) writeTo(w http.ResponseWriter) {
	for name, value := range s.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// responseCapture tees the handler's response so it can be stored.
type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) record(fingerprint string) storedResponse {
	s := storedResponse{
		Status:      c.statusCode(),
		Body:        c.body.Bytes(),
		Fingerprint: fingerprint,
	}
	for _, name := range replayedHeaders {
		if v := c.Header().Get(name); v != "" {
			if s.Headers == nil {
				s.Headers = map[string]string{}
			}
			s.Headers[name] = v
		}
	}
	return s
}
