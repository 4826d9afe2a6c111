package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/common/version"
)

var (
	userAgent = fmt.Sprintf("uup/%s", version.Version)
)

const (
	defaultHTTPPort = 80
)

type HTTPProbe struct {
	Method string
	Path   string
}

// HTTP checks liveness by making a single HTTP request. Any response counts
// as up, regardless of status; redirects are not followed.
type HTTP struct {
	config HTTPProbe
	client *http.Client
	logger *slog.Logger
}

func NewHTTP(config HTTPProbe, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Method == "" {
		config.Method = http.MethodHead
	}
	if config.Path == "" {
		config.Path = "/"
	}

	transport := &http.Transport{
		DisableKeepAlives: true,
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
	}

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// Don't follow redirects
			return http.ErrUseLastResponse
		},
	}

	return &HTTP{
		config: config,
		client: client,
		logger: logger,
	}
}

func (h *HTTP) Check(ctx context.Context, target Target, timeout time.Duration) (Result, error) {
	if !target.Addr.IsValid() {
		return Result{}, ErrInvalidAddress
	}

	port := target.Port
	if !target.HasPort() {
		port = defaultHTTPPort
	}

	targetURL := url.URL{
		Scheme: "http",
		Host:   netip.AddrPortFrom(target.Addr, port).String(),
		Path:   h.config.Path,
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, h.config.Method, targetURL.String(), nil)
	if err != nil {
		return Result{}, errors.Wrapf(err, "Error creating request")
	}
	request.Header.Set("User-Agent", userAgent)

	start := time.Now()
	response, err := h.client.Do(request)
	elapsed := time.Since(start)

	if err != nil {
		if !isUnreachable(ctx, err) {
			return Result{}, errors.Wrapf(err, "Error making HTTP request to %s", targetURL.String())
		}

		h.logger.Debug(
			"HTTP target is unreachable",
			"target",
			targetURL.String(),
			"error",
			err.Error(),
		)

		return Result{
			Up:     false,
			Detail: httpDetail(false, -1, 0, targetURL.String()),
		}, nil
	}
	response.Body.Close()

	return Result{
		Up:     true,
		Detail: httpDetail(true, elapsed.Seconds(), response.StatusCode, targetURL.String()),
	}, nil
}

// isUnreachable separates "nobody answered" from failures of the probe
// itself. Cancellation by the caller is neither and is returned as an error.
func isUnreachable(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ENETDOWN) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func httpDetail(up bool, duration float64, status int, target string) Detail {
	return NewDetail(
		Fields{
			"up":          up,
			"duration":    duration,
			"unit":        "s",
			"status_code": status,
			"url":         target,
		},
		renderHTTP,
	)
}

func renderHTTP(f Fields) string {
	if f.Bool("up") {
		return fmt.Sprintf(
			"HTTP %s responded in %s %s (status_code=%d)",
			f.String("url"),
			strconv.FormatFloat(f.Float("duration"), 'f', -1, 64),
			f.String("unit"),
			f.Uint("status_code"),
		)
	}
	return fmt.Sprintf("HTTP %s unreachable", f.String("url"))
}
