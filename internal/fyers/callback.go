package fyers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallbackPath is where the broker redirects after login.
const CallbackPath = "/callback"

// ErrCallbackTimeout is returned when no redirect arrives in time.
var ErrCallbackTimeout = errors.New("fyers: auth code not received before timeout")

var callbackPage = template.Must(template.New("callback").Parse(`<html><body style="font-family:sans-serif;text-align:center;padding:60px;">
<h2>{{.}}</h2>
<p>Return to your <b>NIFTY Terminal</b>.</p>
</body></html>`))

// WriteCallbackPage renders the small page shown in the browser after a redirect.
func WriteCallbackPage(c *gin.Context, status int, message string) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = callbackPage.Execute(c.Writer, message)
}

// CodeFromQuery reads auth_code, falling back to code.
func CodeFromQuery(c *gin.Context) string {
	if code := c.Query("auth_code"); code != "" {
		return code
	}
	return c.Query("code")
}

// CallbackServer is a one-shot local listener that captures the auth code
// from the broker redirect, so the user never copies the URL by hand.
type CallbackServer struct {
	addr   string
	logger *zap.Logger

	once   sync.Once
	done   chan struct{}
	code   string
	server *http.Server
	ln     net.Listener
}

// NewCallbackServer creates a listener for addr (e.g. "127.0.0.1:8085").
func NewCallbackServer(addr string, logger *zap.Logger) *CallbackServer {
	return &CallbackServer{
		addr:   addr,
		logger: logger.Named("callback"),
		done:   make(chan struct{}),
	}
}

// RedirectURL is the URL to register in the broker's app settings.
func (s *CallbackServer) RedirectURL() string {
	addr := s.addr
	if s.ln != nil {
		addr = s.ln.Addr().String()
	}
	return "http://" + addr + CallbackPath
}

// Start begins listening. The server handles a single redirect.
func (s *CallbackServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(CallbackPath, s.handle)
	router.NoRoute(func(c *gin.Context) {
		WriteCallbackPage(c, http.StatusNotFound, "Not found")
	})

	s.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Callback server failed", zap.Error(err))
		}
	}()
	s.logger.Info("Local auth server started", zap.String("redirect_url", s.RedirectURL()))
	return nil
}

func (s *CallbackServer) handle(c *gin.Context) {
	code := CodeFromQuery(c)
	if code == "" {
		WriteCallbackPage(c, http.StatusBadRequest, "No auth_code in URL. Please try again.")
	} else {
		WriteCallbackPage(c, http.StatusOK, "Auth code captured! You can close this tab and return to the app.")
		s.logger.Info("Auth code captured automatically")
	}
	s.once.Do(func() {
		s.code = code
		close(s.done)
	})
}

// Wait blocks until the redirect arrives, the timeout passes or ctx ends,
// then shuts the listener down.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	defer s.shutdown()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		if s.code == "" {
			return "", ErrNoAuthCode
		}
		return s.code, nil
	case <-timer.C:
		return "", ErrCallbackTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *CallbackServer) shutdown() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}
