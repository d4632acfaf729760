// 程序入口：读取配置、装配依赖并启动服务；API 路由在 internal/api 注册
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cadastral-api/internal/api"
	"cadastral-api/internal/bootstrap"
	"cadastral-api/internal/catalog"
	"cadastral-api/internal/config"
	"cadastral-api/internal/display"
	"cadastral-api/internal/logger"
	"cadastral-api/internal/middleware"
	"cadastral-api/internal/session"
	"cadastral-api/internal/utils"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.Load()
	l.Debug("config_api_base", "base", cfg.APIBase)
	l.Debug("config_ui_dir", "dir", cfg.UIDist)
	l.Debug("config_data_dir", "dir", cfg.DataDir, "page_url", cfg.DataPageURL, "extra_urls", len(cfg.DataURLs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		l.Error("deps_open_error", "err", err)
		os.Exit(1)
	}
	defer deps.Close()
	if catalog.StartDailyRefresh(ctx, deps.Sources, cfg.CacheRefreshHour) {
		l.Info("cache_refresh_enabled", "hour", cfg.CacheRefreshHour)
	}

	sessions := session.NewManager(cfg.SessionTTL, session.Options{
		Sources:        deps.Sources,
		SpatialEnabled: cfg.SpatialEnabled,
	})
	defer sessions.Close()

	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", api.BuildRoutes(sessions, cfg.APIBase))

	fs := http.FileServer(http.Dir(cfg.UIDist))
	mux.Handle("/", fs)

	// 向前端暴露 API 基础路径、初始视口中心与形状能力开关
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		c := display.InitialCenter
		_, _ = w.Write([]byte("window.__API_BASE__='" + cfg.APIBase + "'\n"))
		_, _ = w.Write([]byte("window.__MAP_CENTER__=[" + strconv.FormatFloat(c[0], 'f', -1, 64) + "," + strconv.FormatFloat(c[1], 'f', -1, 64) + "]\n"))
		_, _ = w.Write([]byte("window.__SPATIAL_ENABLED__=" + strconv.FormatBool(cfg.SpatialEnabled) + "\n"))
	})

	var handler http.Handler = logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler, cfg.RateLimitEnabled, cfg.RateLimitQPS)
	if cfg.OriginDefense {
		handler = middleware.NewAllowlist(cfg.OriginAllowIPs, cfg.OriginAllowCIDRs, cfg.OriginAllowLocal, cfg.OriginRealIPHeader).Wrap(handler)
	}
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		}).Handler(handler)
		l.Info("cors_enabled", "origins", cfg.CORSOrigins)
	}
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		l.Info("shutdown_begin")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			l.Error("shutdown_error", "err", err)
		}
	}()

	if cfg.TLSEnabled {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "cadastral-api.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		// 可选：启动 HTTP 重定向到 HTTPS（不改变 HTTPS 运行端口）
		if cfg.TLSRedirectAddr != "" {
			go serveRedirect(cfg.TLSRedirectAddr, cfg.Addr)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		err = s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown_done")
}

// serveRedirect：HTTP 请求重定向到 HTTPS 端口
func serveRedirect(redirAddr, httpsAddr string) {
	l := logger.L()
	httpRedir := http.NewServeMux()
	httpRedir.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
		if port := strings.TrimPrefix(httpsAddr, ":"); port != "" && port != "443" {
			host += ":" + port
		}
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		l.Debug("http_redirect", "from", r.Host, "to", target)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+httpsAddr)
	if err := http.ListenAndServe(redirAddr, logger.AccessMiddleware(l)(httpRedir)); err != nil {
		l.Error("http_redirect_error", "err", err)
	}
}
