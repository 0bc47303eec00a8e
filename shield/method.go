package shield

import "net/http"

// HeadToGet rewrites HEAD requests to GET so handlers registered with r.Get()
// answer 200 instead of 405. net/http strips the body for HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// MaxFormBody returns middleware that caps the body of form-encoded requests
// at maxBytes. Multipart uploads and JSON bodies pass through untouched; the
// upload handler enforces its own, much larger ceiling.
func MaxFormBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
