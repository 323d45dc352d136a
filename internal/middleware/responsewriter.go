package middleware

import "net/http"

// ResponseCapture wraps http.ResponseWriter to record the status code and
// bytes written, since the standard interface does not expose them after
// the fact. Logging relies on it.
type ResponseCapture struct {
	http.ResponseWriter
	StatusCode int
	Written    int64
}

// NewResponseCapture wraps a ResponseWriter. The status defaults to 200
// for handlers that never call WriteHeader.
func NewResponseCapture(w http.ResponseWriter) *ResponseCapture {
	return &ResponseCapture{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

func (rc *ResponseCapture) WriteHeader(code int) {
	rc.StatusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *ResponseCapture) Write(b []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(b)
	rc.Written += int64(n)
	return n, err
}
