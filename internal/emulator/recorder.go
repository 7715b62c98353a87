package emulator

import (
	"bytes"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// RecordedRequest is a captured inbound request.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Recorder keeps inbound requests for assertions.
type Recorder struct {
	mutex    sync.Mutex
	requests []RecordedRequest
}

func (recorder *Recorder) middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		var body []byte
		if contextGin.Request.Body != nil {
			body, _ = io.ReadAll(contextGin.Request.Body)
			contextGin.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		recorder.mutex.Lock()
		recorder.requests = append(recorder.requests, RecordedRequest{
			Method:   contextGin.Request.Method,
			Path:     contextGin.Request.URL.Path,
			RawQuery: contextGin.Request.URL.RawQuery,
			Header:   contextGin.Request.Header.Clone(),
			Body:     body,
		})
		recorder.mutex.Unlock()
		contextGin.Next()
	}
}

func (recorder *Recorder) snapshot() []RecordedRequest {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make([]RecordedRequest, len(recorder.requests))
	copy(clone, recorder.requests)
	return clone
}
