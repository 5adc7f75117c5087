// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	throttle "github.com/plsmphnx/go-throttle"
	"github.com/plsmphnx/go-throttle/throttlehttp"
)

// newHandler builds the proxy router: every configured rule throttles its
// path prefix in front of the upstream, and everything else passes through.
func newHandler(cfg config, store *throttle.Store, counters *throttle.Counters, logger *zap.Logger) (http.Handler, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, err
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream error",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(abortOnInvariant(func(err error) {
		logger.Fatal("throttle state is no longer trustworthy", zap.Error(err))
	}))

	r.Get("/debug/throttle", throttlehttp.Stats(counters, throttlehttp.WithLogger(logger)).ServeHTTP)

	mounted := map[string]bool{}
	for _, rc := range cfg.Rules {
		key, err := keyFunc(rc.Key)
		if err != nil {
			return nil, err
		}
		rule := throttlehttp.Rule{
			Name:   rc.Path,
			Limit:  rc.Limit,
			Period: rc.Period,
			Key:    key,
		}
		throttled := r.With(throttlehttp.Middleware(store, rule, throttlehttp.WithLogger(logger)))
		for _, pattern := range prefixPatterns(rc.Path) {
			if mounted[pattern] {
				continue
			}
			throttled.Handle(pattern, proxy)
			mounted[pattern] = true
		}
		logger.Info("rule mounted",
			zap.String("path", rc.Path),
			zap.Int64("limit", rc.Limit),
			zap.Duration("period", rc.Period),
		)
	}
	if !mounted["/*"] {
		r.Handle("/*", proxy)
	}
	return r, nil
}

// abortOnInvariant hands panics wrapping throttle.ErrInvariant to exit
// instead of letting Recoverer answer them with a 500. Any other panic is
// raised again for the outer Recoverer.
func abortOnInvariant(exit func(error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if err, ok := rvr.(error); ok && errors.Is(err, throttle.ErrInvariant) {
					exit(err)
					return
				}
				panic(rvr)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// prefixPatterns returns the chi patterns matching a path and everything
// below it.
func prefixPatterns(path string) []string {
	base := strings.TrimSuffix(path, "/")
	if base == "" {
		return []string{"/*"}
	}
	return []string{base, base + "/*"}
}
