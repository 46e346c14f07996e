package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"html"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/webdav"

	"aliyundrive-webdav/aliyundrive"
	"aliyundrive-webdav/config"
	"aliyundrive-webdav/drivecache"
	"aliyundrive-webdav/webdavfs"
)

// Version is stamped at release time; kept as a plain var the way the
// teacher's main.go does, rather than build-info introspection.
var Version = "v2.0.0"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if cfg.PrintVersion {
		fmt.Println(Version)
		return
	}

	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cfg.CheckRefreshToken != "" {
		os.Exit(runCheckRefreshToken(cfg))
	}

	if err := run(cfg); err != nil {
		logrus.WithError(err).Error("💀 fatal")
		os.Exit(1)
	}
}

// runCheckRefreshToken attempts one refresh and reports whether the
// token still works, without starting the server.
func runCheckRefreshToken(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transport := aliyundrive.NewTransport(cfg.ClientID, cfg.ClientSecret, cfg.PreferHTTPDownload)
	_, err := aliyundrive.NewTokenManager(ctx, transport, cfg.CheckRefreshToken, "", nil, driveType(cfg.DriveType))
	if err != nil {
		fmt.Println("refresh_token 已过期")
		return 1
	}
	fmt.Println("refresh_token 可以使用")
	return 0
}

func driveType(s string) aliyundrive.DriveType {
	switch strings.ToLower(s) {
	case "resource":
		return aliyundrive.DriveTypeResource
	case "backup":
		return aliyundrive.DriveTypeBackup
	default:
		return aliyundrive.DriveTypeDefault
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := aliyundrive.NewTransport(cfg.ClientID, cfg.ClientSecret, cfg.PreferHTTPDownload)
	tokens, err := aliyundrive.NewTokenManager(ctx, transport, cfg.RefreshToken, cfg.Workdir, nil, driveType(cfg.DriveType))
	if err != nil {
		return fmt.Errorf("token bootstrap: %w", err)
	}
	defer tokens.Stop()

	client := aliyundrive.NewClient(transport, tokens)
	dirs := drivecache.NewDirCache(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	uploads := drivecache.NewUploadIndex()

	fs := webdavfs.New(client, dirs, uploads, cfg.UploadBufferSize, cfg.SkipUploadSameSize, cfg.NoTrash)
	fs.SetReadBufferSize(cfg.ReadBufferSize)
	if cfg.ReadOnly {
		logrus.Info("📝 read-only mode: mutating requests will be rejected")
	}

	handler := &webdav.Handler{
		Prefix:     cfg.Root,
		FileSystem: readOnlyGuard{FileSystem: fs, readOnly: cfg.ReadOnly},
		LockSystem: webdav.NewMemLS(),
		Logger: func(req *http.Request, err error) {
			if err != nil {
				logrus.WithField("method", req.Method).WithField("path", req.URL.Path).WithError(err).Debug("webdav request failed")
			}
		},
	}

	dispatch := getToPropfindMiddleware(fs, cfg, handler)
	dispatch = redirectMiddleware(fs, cfg, dispatch)
	dispatch = checksumMiddleware(dispatch)
	dispatch = stripPrefixMiddleware(cfg, dispatch)
	mux := http.NewServeMux()
	mux.HandleFunc("/", authMiddleware(cfg, dispatch))

	server := &http.Server{Addr: cfg.Addr(), Handler: mux}

	go watchSignals(fs)

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.Addr()).Info("💻 listening")
		if cfg.TLSEnabled() {
			errCh <- server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-sigCh:
		logrus.Info("🙅 shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	}
	return nil
}

// watchSignals reacts to SIGHUP by invalidating the entire directory
// cache without restarting the process.
func watchSignals(fs *webdavfs.FileSystem) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	for range sigCh {
		fs.FlushDirectoryCache()
	}
}

// checksumMiddleware propagates the OC-Checksum request header (the
// caller-supplied "sha1:<hex>" hint OwnCloud/Nextcloud-style sync clients
// send on PUT) through the request context, since OpenFile has no other
// way to see request headers.
func checksumMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if v := req.Header.Get("OC-Checksum"); v != "" {
			req = req.WithContext(webdavfs.WithChecksum(req.Context(), v))
		}
		next.ServeHTTP(w, req)
	})
}

// stripPrefixMiddleware removes strip_prefix from the request path before
// dispatch.
func stripPrefixMiddleware(cfg *config.Config, next http.Handler) http.Handler {
	if cfg.StripPrefix == "" {
		return next
	}
	return http.StripPrefix(cfg.StripPrefix, next)
}

// authMiddleware enforces the configured basic-auth credential, if any,
// and sets the CORS headers unconditionally so cross-origin WebDAV
// clients (web-based file managers) keep working.
func authMiddleware(cfg *config.Config, next http.Handler) http.HandlerFunc {
	requireAuth := cfg.AuthUser != ""
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PROPFIND, MKCOL, MOVE, COPY, LOCK, UNLOCK")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if requireAuth {
			user, pass, ok := req.BasicAuth()
			if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(cfg.AuthUser)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.AuthPassword)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="aliyundrive-webdav"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, req)
	}
}

// getToPropfindMiddleware rewrites a bare GET on a directory into a
// depth-1 PROPFIND, so plain HTTP clients (and browsers) see a listing
// instead of a 405. When auto_index
// is set, a GET on a directory instead renders a plain HTML index.
func getToPropfindMiddleware(fs *webdavfs.FileSystem, cfg *config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			name := strings.TrimPrefix(req.URL.Path, cfg.Root)
			if info, err := fs.Stat(req.Context(), name); err == nil && info.IsDir() {
				if cfg.AutoIndex {
					serveAutoIndex(w, req, fs, name)
					return
				}
				req.Method = "PROPFIND"
				if req.Header.Get("Depth") == "" {
					req.Header.Set("Depth", "1")
				}
			}
		}
		next.ServeHTTP(w, req)
	})
}

// serveAutoIndex renders a minimal HTML directory listing for the
// auto_index option, as an alternative to the WebDAV-only PROPFIND path.
func serveAutoIndex(w http.ResponseWriter, req *http.Request, fs *webdavfs.FileSystem, name string) {
	f, err := fs.OpenFile(req.Context(), name, os.O_RDONLY, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	entries, err := f.Readdir(-1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><body><h1>Index of %s</h1><ul>\n", html.EscapeString(req.URL.Path))
	if req.URL.Path != "/" {
		fmt.Fprintf(w, "<li><a href=\"../\">..</a></li>\n")
	}
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() {
			n += "/"
		}
		fmt.Fprintf(w, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(n), html.EscapeString(n))
	}
	fmt.Fprint(w, "</ul></body></html>")
}

// redirectMiddleware implements the optional "redirect" option: instead of proxying file bytes, 302 the client straight at the
// presigned OSS URL. Any failure (directory, .livp, upstream error) falls
// through to the normal proxied GET.
func redirectMiddleware(fs *webdavfs.FileSystem, cfg *config.Config, next http.Handler) http.Handler {
	if !cfg.Redirect {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			name := strings.TrimPrefix(req.URL.Path, cfg.Root)
			if url, err := fs.DownloadURL(req.Context(), name); err == nil {
				http.Redirect(w, req, url, http.StatusFound)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}

// readOnlyGuard rejects every mutating FileSystem call when read_only is
// set, leaving Stat free to pass through unchanged.
type readOnlyGuard struct {
	webdav.FileSystem
	readOnly bool
}

func (g readOnlyGuard) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	if g.readOnly {
		return os.ErrPermission
	}
	return g.FileSystem.Mkdir(ctx, name, perm)
}

func (g readOnlyGuard) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if g.readOnly && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, os.ErrPermission
	}
	return g.FileSystem.OpenFile(ctx, name, flag, perm)
}

func (g readOnlyGuard) RemoveAll(ctx context.Context, name string) error {
	if g.readOnly {
		return os.ErrPermission
	}
	return g.FileSystem.RemoveAll(ctx, name)
}

func (g readOnlyGuard) Rename(ctx context.Context, oldName, newName string) error {
	if g.readOnly {
		return os.ErrPermission
	}
	return g.FileSystem.Rename(ctx, oldName, newName)
}
