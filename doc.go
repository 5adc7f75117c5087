// An in-process rate limiter based on the token-bucket algorithm, built for
// hosts that must decide on every inbound request whether to let it through.
//
// Buckets are identified by a cryptographic digest of the key together with
// the limit and period, so querying the same key with different parameters
// yields independent buckets. Digests are spread over a fixed number of
// independently locked partitions, and each partition evicts its own idle
// buckets every so many calls, keeping memory bounded by the keys active
// within one period. State is local to the process.
//
//	package main
//
//	import (
//		"net"
//		"net/http"
//		"time"
//
//		throttle "github.com/plsmphnx/go-throttle"
//	)
//
//	func main() {
//		// Share one store between every handler in the process.
//		lc := throttle.NewLifecycle()
//		s, err := lc.Load()
//		if err != nil {
//			panic(err)
//		}
//		defer lc.Unload()
//
//		// Allow each client address 15 requests every 10 seconds.
//		http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
//			host, _, _ := net.SplitHostPort(r.RemoteAddr)
//			if s.IsDenied(throttle.CallFunc(time.Now), []byte(host), 15, 10*time.Second) {
//				w.WriteHeader(http.StatusTooManyRequests)
//				return
//			}
//			w.WriteHeader(http.StatusOK)
//		})
//		http.ListenAndServe(":80", nil)
//	}
//
// The throttlehttp package wraps the same call as chi-compatible middleware.
package throttle
