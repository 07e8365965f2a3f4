package handler

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

const llmPrefix = "/llm/v1"

// newLLMProxy forwards /llm/v1/<rest> to <upstream>/<rest>. It returns nil
// when no upstream is configured or the URL cannot be used.
func newLLMProxy(upstream string, logger *zap.Logger) http.Handler {
	if upstream == "" {
		return nil
	}
	target, err := url.Parse(upstream)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		logger.Warn("Ignoring invalid llmproxy url", zap.String("url", upstream), zap.Error(err))
		return nil
	}

	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			rest := strings.TrimPrefix(r.In.URL.Path, llmPrefix)
			r.Out.URL.Scheme = target.Scheme
			r.Out.URL.Host = target.Host
			r.Out.URL.Path = joinPath(target.Path, rest)
			r.Out.URL.RawPath = ""
			r.Out.URL.RawQuery = r.In.URL.RawQuery
			r.Out.Host = target.Host
			r.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Warn("LLM proxy request failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

func joinPath(base, rest string) string {
	if rest == "" || rest == "/" {
		if base == "" {
			return "/"
		}
		return base
	}
	return path.Join("/", base, rest)
}
