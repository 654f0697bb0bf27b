package handler

import (
	"sync"
	"sync/atomic"
)

// Metrics provides numbers about the usage of the handler. Since these may
// be accessed from multiple goroutines, it is necessary to read and modify
// them atomically using the functions exposed in the sync/atomic package,
// such as atomic.LoadUint64. In addition the maps must not be modified to
// prevent data races.
type Metrics struct {
	// RequestsTotal counts the number of incoming requests per method.
	RequestsTotal map[string]*uint64
	// ErrorsTotal counts the number of returned errors by their S3 code.
	ErrorsTotal *ErrorsTotalMap
	// BytesReceived counts bytes of buffered request bodies. Streaming
	// upload bodies are accounted by the backend client, not here.
	BytesReceived *uint64
	// BytesSent counts bytes of XML response documents.
	BytesSent *uint64
	// UploadsCreated, UploadsCompleted and UploadsAborted count the
	// lifecycle transitions of simulated multipart uploads.
	UploadsCreated   *uint64
	UploadsCompleted *uint64
	UploadsAborted   *uint64
}

func (m Metrics) incRequestsTotal(method string) {
	if ptr, ok := m.RequestsTotal[method]; ok {
		atomic.AddUint64(ptr, 1)
	}
}

func (m Metrics) incErrorsTotal(err Error) {
	atomic.AddUint64(m.ErrorsTotal.retrievePointerFor(err), 1)
}

func (m Metrics) incBytesReceived(delta uint64) {
	atomic.AddUint64(m.BytesReceived, delta)
}

func (m Metrics) incBytesSent(delta uint64) {
	atomic.AddUint64(m.BytesSent, delta)
}

func (m Metrics) incUploadsCreated() {
	atomic.AddUint64(m.UploadsCreated, 1)
}

func (m Metrics) incUploadsCompleted() {
	atomic.AddUint64(m.UploadsCompleted, 1)
}

func (m Metrics) incUploadsAborted() {
	atomic.AddUint64(m.UploadsAborted, 1)
}

func newMetrics() Metrics {
	return Metrics{
		RequestsTotal: map[string]*uint64{
			"GET":    new(uint64),
			"HEAD":   new(uint64),
			"PUT":    new(uint64),
			"POST":   new(uint64),
			"DELETE": new(uint64),
		},
		ErrorsTotal:      newErrorsTotalMap(),
		BytesReceived:    new(uint64),
		BytesSent:        new(uint64),
		UploadsCreated:   new(uint64),
		UploadsCompleted: new(uint64),
		UploadsAborted:   new(uint64),
	}
}

// ErrorsTotalMap stores the counters for the different S3 errors.
type ErrorsTotalMap struct {
	mu sync.RWMutex
	m  map[errorKey]*uint64
}

type errorKey struct {
	Code       string
	StatusCode int
}

func newErrorsTotalMap() *ErrorsTotalMap {
	return &ErrorsTotalMap{
		m: make(map[errorKey]*uint64, 10),
	}
}

// retrievePointerFor returns (after creating it if necessary) the pointer to
// the counter for the error. Errors are grouped by code and status, not by
// message, to keep the cardinality bounded.
func (e *ErrorsTotalMap) retrievePointerFor(err Error) *uint64 {
	key := errorKey{Code: err.Code, StatusCode: err.StatusCode}
	e.mu.RLock()
	ptr, ok := e.m[key]
	e.mu.RUnlock()
	if ok {
		return ptr
	}

	e.mu.Lock()
	// The pointer may have been created in the meantime.
	if ptr, ok = e.m[key]; !ok {
		ptr = new(uint64)
		e.m[key] = ptr
	}
	e.mu.Unlock()
	return ptr
}

// Load returns a snapshot of the counter pointers. The pointed-to values
// must still be read with atomic.LoadUint64.
func (e *ErrorsTotalMap) Load() map[Error]*uint64 {
	e.mu.RLock()
	m := make(map[Error]*uint64, len(e.m))
	for key, ptr := range e.m {
		m[Error{Code: key.Code, StatusCode: key.StatusCode}] = ptr
	}
	e.mu.RUnlock()
	return m
}
