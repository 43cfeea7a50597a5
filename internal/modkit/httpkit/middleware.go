package httpkit

import (
	"compress/flate"
	"net/http"

	phttp "tidemark/internal/platform/net/http"
	"tidemark/internal/platform/net/middleware"
)

// CommonStack returns a baseline per module middleware slice
// compose with your auth or tenancy middleware as needed in main
func CommonStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		// tracing / correlation
		middleware.RequestID(),
		middleware.RealIP(),

		// safety
		middleware.RecoverJSON,

		// cache / freshness
		middleware.NoCache(),

		// observability
		middleware.Logger(),

		// cross-origin (tweak config in main if needed)
		middleware.CORS(middleware.CORSOptions{}),
		middleware.Compress(flate.BestSpeed),
		middleware.Heartbeat("/health"),
		middleware.RedirectSlashes(),
		middleware.StripSlashes(),
		middleware.Timeout(30 * 1e9), // 30s
	}
}

// APIKey wires the api key middleware to the platform JSON writer
func APIKey(key string) func(http.Handler) http.Handler {
	// middleware expects write func(w http.ResponseWriter, status int, body any)
	// use phttp.JSON which matches that signature
	return middleware.APIKey(key, phttp.JSON)
}

// Protected groups routes behind the shared api key
func Protected(r Router, key string, fn func(Router)) {
	r.Group(func(gr Router) {
		gr.Use(APIKey(key))
		fn(gr)
	})
}
