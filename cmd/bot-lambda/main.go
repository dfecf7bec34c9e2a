package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/realestate-lead-bot/cmd/mainconfig"
	appconfig "github.com/wolfman30/realestate-lead-bot/internal/config"
	"github.com/wolfman30/realestate-lead-bot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	app, err := mainconfig.Build(context.Background(), cfg, logger, nil)
	if err != nil {
		panic(err)
	}

	fn := newFunction(app, cfg.SessionSweepInterval, logger)
	lambda.Start(fn.handle)
}

// function serves API Gateway v2 events through the shared bot router. A frozen Lambda
// cannot run a background ticker, so idle sessions are swept inline at most once per
// interval.
type function struct {
	app      *mainconfig.App
	logger   *logging.Logger
	interval time.Duration

	mu        sync.Mutex
	lastSweep time.Time
	now       func() time.Time
}

func newFunction(app *mainconfig.App, interval time.Duration, logger *logging.Logger) *function {
	return &function{
		app:      app,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

func (f *function) handle(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	f.maybeSweep(ctx)

	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}
	if path == "" {
		path = "/"
	}
	target := path
	if qs := strings.TrimSpace(evt.RawQueryString); qs != "" {
		target += "?" + qs
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid request"}, nil
	}
	for k, v := range evt.Headers {
		req.Header.Set(k, v)
	}
	if ip := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); ip != "" {
		req.RemoteAddr = net.JoinHostPort(ip, "0")
		if headerValue(evt.Headers, "x-real-ip") == "" {
			req.Header.Set("X-Real-Ip", ip)
		}
	}
	if id := strings.TrimSpace(evt.RequestContext.RequestID); id != "" && headerValue(evt.Headers, "x-request-id") == "" {
		req.Header.Set("X-Request-ID", id)
	}

	rw := newResponseWriter()
	f.app.Handler.ServeHTTP(rw, req)
	return rw.response(), nil
}

func (f *function) maybeSweep(ctx context.Context) {
	f.mu.Lock()
	now := f.now()
	due := f.lastSweep.IsZero() || now.Sub(f.lastSweep) >= f.interval
	if due {
		f.lastSweep = now
	}
	f.mu.Unlock()
	if due {
		f.app.Sweeper.Sweep(ctx)
	}
}

// responseWriter buffers a router response for the API Gateway reply.
type responseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseWriter() *responseWriter {
	return &responseWriter{header: http.Header{}}
}

func (w *responseWriter) Header() http.Header { return w.header }

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *responseWriter) response() events.APIGatewayV2HTTPResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	out := events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       w.body.String(),
		Headers:    map[string]string{},
	}
	for k, values := range w.header {
		if len(values) > 0 {
			out.Headers[strings.ToLower(k)] = strings.Join(values, ", ")
		}
	}
	return out
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
