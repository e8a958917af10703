// Package fileserver serves local podcast episodes and loop files to the speaker
// over plain HTTP.
package fileserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Mount prefixes. The reader recognises podcast URIs by PodcastsPrefix.
const (
	PodcastsPrefix = "/podcasts/"
	LoopsPrefix    = "/loops/"
)

// Server serves media directories.
type Server struct {
	port    int
	baseURL string
	handler http.Handler
	logger  *slog.Logger
}

// New builds a server for podcastsRoot and loopsRoot (either may be empty to
// skip that mount). advertiseHost is the address the speaker should use; empty
// picks the outbound interface address toward speakerHost.
func New(port int, advertiseHost, speakerHost, podcastsRoot, loopsRoot string, logger *slog.Logger) (*Server, error) {
	host := advertiseHost
	if host == "" {
		ip, err := OutboundIP(speakerHost)
		if err != nil {
			return nil, fmt.Errorf("determine advertise address: %w", err)
		}
		host = ip
	}

	mux := http.NewServeMux()
	if podcastsRoot != "" {
		mux.Handle(PodcastsPrefix, http.StripPrefix(PodcastsPrefix, http.FileServer(mediaDir(podcastsRoot))))
	}
	if loopsRoot != "" {
		mux.Handle(LoopsPrefix, http.StripPrefix(LoopsPrefix, http.FileServer(mediaDir(loopsRoot))))
	}

	s := &Server{
		port:    port,
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		logger:  logger,
	}
	s.handler = s.logRequests(mux)
	return s, nil
}

// BaseURL is the URL prefix the speaker reaches this server at.
func (s *Server) BaseURL() string { return s.baseURL }

// Handler exposes the routing for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// URL builds the speaker-facing URL for a file under prefix. rel is slash
// separated; each segment is escaped.
func (s *Server) URL(prefix, rel string) string {
	segs := strings.Split(strings.TrimPrefix(rel, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.baseURL + prefix + strings.Join(segs, "/")
}

// Run listens until ctx is canceled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("media server listening", "port", s.port, "base_url", s.baseURL)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("media server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("media server shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// mediaDir hides dotfiles and directory listings.
type mediaDir string

func (d mediaDir) Open(name string) (http.File, error) {
	for _, seg := range strings.Split(path.Clean(name), "/") {
		if strings.HasPrefix(seg, ".") && seg != "." {
			return nil, os.ErrNotExist
		}
	}
	f, err := http.Dir(d).Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		s.logger.Debug("media request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"sent", humanize.Bytes(uint64(rec.bytes)),
			"range", r.Header.Get("Range"),
			"remote", r.RemoteAddr,
			"took", time.Since(start))
	})
}

// OutboundIP returns the local address used to reach target (host or host:port).
// No packets are sent; dialing UDP only selects a route.
func OutboundIP(target string) (string, error) {
	if target == "" {
		target = "192.0.2.1" // TEST-NET-1; any routable address selects the default route
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "1400")
	}
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
