package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second

	maxRedirects = 10
)

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// HTTP performs the requests behind pyfetch. Only hosts in AllowedHosts and
// their subdomains can be reached.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	h := &HTTP{cfg: cfg}
	h.client = &http.Client{
		Timeout:       cfg.RequestTimeout,
		CheckRedirect: h.checkRedirect,
	}
	return h
}

// checkRedirect holds every hop to the same allowlist as the first request.
func (h *HTTP) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if host := req.URL.Hostname(); !h.isHostAllowed(host) {
		return fmt.Errorf("redirect to host not allowed: %s", host)
	}
	return nil
}

// fetchRequest is a decoded pyfetch call.
type fetchRequest struct {
	method  string
	url     *url.URL
	body    string
	headers map[string]string
}

func (h *HTTP) decode(args map[string]any) (fetchRequest, error) {
	var req fetchRequest

	req.method, _ = args["method"].(string)
	req.method = strings.ToUpper(req.method)
	if req.method == "" {
		req.method = http.MethodGet
	}
	if !allowedMethods[req.method] {
		return req, fmt.Errorf("unsupported method: %s", req.method)
	}

	raw, _ := args["url"].(string)
	u, err := h.checkURL(raw)
	if err != nil {
		return req, err
	}
	req.url = u

	req.body, _ = args["body"].(string)
	if int64(len(req.body)) > h.cfg.MaxBodySize {
		return req, errors.New("request body exceeds max size")
	}

	if headers, ok := args["headers"].(map[string]any); ok {
		req.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.headers[k] = s
			}
		}
	}
	return req, nil
}

// checkURL applies the length, scheme and host limits to raw.
func (h *HTTP) checkURL(raw string) (*url.URL, error) {
	switch {
	case raw == "":
		return nil, errors.New("url required")
	case len(raw) > h.cfg.MaxURLLength:
		return nil, errors.New("url exceeds max length")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return nil, errors.New("http not enabled")
	}
	if host := u.Hostname(); !h.isHostAllowed(host) {
		return nil, fmt.Errorf("host not allowed: %s", host)
	}
	return u, nil
}

// Request takes method, url, body and headers and returns an HTTPResponse.
// Response bodies beyond MaxBodySize are cut off.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	fr, err := h.decode(args)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if fr.body != "" {
		body = strings.NewReader(fr.body)
	}
	req, err := http.NewRequestWithContext(ctx, fr.method, fr.url.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range fr.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	return HTTPResponse{
		URL:     resp.Request.URL.String(),
		Status:  resp.StatusCode,
		Body:    string(data),
		Headers: headers,
	}, nil
}

// isHostAllowed matches names exactly or as subdomains. IP literals only
// match IP entries, compared as addresses.
func (h *HTTP) isHostAllowed(host string) bool {
	ip, ipErr := netip.ParseAddr(host)
	for _, allowed := range h.cfg.AllowedHosts {
		if ipErr == nil {
			if a, err := netip.ParseAddr(allowed); err == nil && a == ip {
				return true
			}
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
