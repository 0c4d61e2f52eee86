package scraper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	config "github.com/NordCoder/Pricerus/internal/config/scheduler"
	"github.com/NordCoder/Pricerus/internal/domain/scrape"
	"github.com/NordCoder/Pricerus/internal/obs"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Page is a fetched product page. Body is never logged.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

type PageFetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher issues browser-like GETs, rotating user agents and proxies.
type HTTPFetcher struct {
	c       *http.Client
	agents  []string
	maxBody int64

	hostRPS   rate.Limit
	hostBurst int

	mu     sync.Mutex
	rnd    *rand.Rand
	limits map[string]*rate.Limiter
}

func NewHTTPFetcher(cfg config.HTTPScrape) (*HTTPFetcher, error) {
	proxies := make([]*url.URL, 0, len(cfg.Proxies))
	for _, p := range cfg.Proxies {
		u, err := url.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", p, err)
		}
		proxies = append(proxies, u)
	}

	f := &HTTPFetcher{
		agents:  cfg.UserAgents,
		maxBody: cfg.MaxBodyBytes,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),

		hostRPS:   rate.Limit(cfg.HostRPS),
		hostBurst: cfg.HostBurst,
		limits:    make(map[string]*rate.Limiter),
	}
	if f.maxBody <= 0 {
		f.maxBody = 4 << 20
	}
	if f.hostBurst <= 0 {
		f.hostBurst = 1
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}
	if len(proxies) > 0 {
		transport.Proxy = func(*http.Request) (*url.URL, error) {
			return proxies[f.intn(len(proxies))], nil
		}
	}

	client := &http.Client{Timeout: cfg.Timeout, Transport: obs.HTTPTransport(transport)}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	f.c = client
	return f, nil
}

func (f *HTTPFetcher) intn(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Intn(n)
}

// wait blocks until the host's limiter admits one more request.
func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	if f.hostRPS <= 0 {
		return nil
	}
	f.mu.Lock()
	lim, ok := f.limits[host]
	if !ok {
		lim = rate.NewLimiter(f.hostRPS, f.hostBurst)
		f.limits[host] = lim
	}
	f.mu.Unlock()
	return lim.Wait(ctx)
}

func (f *HTTPFetcher) userAgent() string {
	if len(f.agents) == 0 {
		return defaultUserAgent
	}
	return f.agents[f.intn(len(f.agents))]
}

// Fetch returns the page for 2xx responses. 403, 429 and 503 are BLOCKED;
// any other status or transport failure is NETWORK.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalizeURL(rawURL), nil)
	if err != nil {
		return nil, scrape.NewError(scrape.ClassNetwork, fmt.Errorf("build request: %w", err))
	}
	if err := f.wait(ctx, req.URL.Host); err != nil {
		return nil, scrape.NewError(scrape.ClassNetwork, fmt.Errorf("host rate limit: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.c.Do(req)
	if err != nil {
		return nil, scrape.NewError(scrape.ClassNetwork, err)
	}
	defer resp.Body.Close()

	if cls := classifyStatus(resp.StatusCode); cls != scrape.ClassNone {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &scrape.Error{
			Class:      cls,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, &scrape.Error{Class: scrape.ClassNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return &Page{URL: rawURL, StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func classifyStatus(code int) scrape.ErrorClass {
	switch {
	case code == http.StatusForbidden, code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
		return scrape.ClassBlocked
	case code >= 200 && code < 300:
		return scrape.ClassNone
	default:
		return scrape.ClassNetwork
	}
}

// fetchClass maps any fetch error to a class; an unclassified fetch failure is NETWORK.
func fetchClass(err error) scrape.ErrorClass {
	if errors.Is(err, context.Canceled) {
		return scrape.ClassNetwork
	}
	if c := scrape.ClassOf(err); c != scrape.ClassInternal {
		return c
	}
	return scrape.ClassNetwork
}

func normalizeURL(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return t
	}
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return t
	}
	return "https://" + t
}
