// Package upstream forwards edge traffic to the application behind it.
//
// The proxy forwards the request as the edge filters left it, so a
// normalized path is what the upstream sees.
package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

const (
	defaultProbeTimeout = 2 * time.Second
	requestIDHeader     = "X-Request-Id"
)

type Options struct {
	// Target is the upstream base URL; its path is prefixed to request paths.
	Target string
	// TrustForwardedProto reports the scheme from X-Forwarded-Proto upstream,
	// otherwise it reflects the edge connection.
	TrustForwardedProto bool
	// Transport defaults to a clone of http.DefaultTransport.
	Transport http.RoundTripper
	// OnError is called for every request that failed to reach the upstream.
	OnError func()
	// ProbeTimeout bounds Check. Default 2s.
	ProbeTimeout time.Duration
}

// Proxy is a reverse proxy to a single upstream.
type Proxy struct {
	target       *url.URL
	trustProto   bool
	onError      func()
	rp           *httputil.ReverseProxy
	client       *http.Client
	probeTimeout time.Duration
}

// New validates the target and builds the proxy.
func New(opts Options) (*Proxy, error) {
	target, err := url.Parse(opts.Target)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse upstream url %q", opts.Target)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, xerrors.Newf("upstream url %q must be absolute http(s)", opts.Target)
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport := otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "upstream " + r.Method
		}),
	)

	p := &Proxy{
		target:       target,
		trustProto:   opts.TrustForwardedProto,
		onError:      opts.OnError,
		client:       &http.Client{Transport: transport},
		probeTimeout: opts.ProbeTimeout,
	}
	if p.probeTimeout <= 0 {
		p.probeTimeout = defaultProbeTimeout
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:       p.rewrite,
		Transport:     transport,
		ErrorHandler:  p.handleError,
		FlushInterval: -1,
	}
	return p, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// Target returns the upstream base URL.
func (p *Proxy) Target() *url.URL {
	u := *p.target
	return &u
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	pr.SetURL(p.target)
	// the upstream sees the host the client asked for
	pr.Out.Host = pr.In.Host

	// ClientIP has already dropped X-Forwarded-For from untrusted peers, so
	// anything left is a chain from trusted proxies.
	if prior := pr.In.Header.Values("X-Forwarded-For"); len(prior) > 0 {
		pr.Out.Header.Set("X-Forwarded-For", strings.Join(prior, ", "))
	}
	pr.SetXForwarded()
	pr.Out.Header.Set("X-Forwarded-Proto", httpmw.RequestScheme(pr.In, p.trustProto))

	if id := httpmw.RequestIDFromContext(pr.In.Context()); id != "" {
		pr.Out.Header.Set(requestIDHeader, id)
	}
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if p.onError != nil {
		p.onError()
	}

	// client went away; nothing useful to send
	if errors.Is(err, context.Canceled) {
		log.FromContext(ctx).Debug(ctx, "client canceled upstream request", "upstream", p.target.Host)
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	log.FromContext(ctx).Error(ctx, xerrors.Wrap(err, "upstream request"), "upstream request failed",
		"upstream", p.target.Host,
		"url.path", r.URL.Path,
	)
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// Check reports whether the upstream answers HTTP at all. Any status counts
// as reachable; only transport failures fail the probe.
func (p *Proxy) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.target.String(), http.NoBody)
	if err != nil {
		return xerrors.Wrap(err, "build upstream probe")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return xerrors.Wrapf(err, "upstream %s unreachable", p.target.Host)
	}
	resp.Body.Close()
	return nil
}
