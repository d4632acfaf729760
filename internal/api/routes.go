// 包 api：集中注册 HTTP API 路由，主入口只负责挂载到 API_BASE 前缀
package api

import (
	"net/http"

	"cadastral-api/internal/metrics"
	"cadastral-api/internal/render"
	"cadastral-api/internal/session"

	"github.com/gorilla/mux"
)

// SessionCookie：会话 cookie 名
const SessionCookie = "cadastre_session"

// Server：API 处理器集合
type Server struct {
	sessions *session.Manager
	base     string
	render   render.Options
}

func NewServer(m *session.Manager, base string) *Server {
	return &Server{sessions: m, base: base, render: render.Options{APIBase: base}}
}

// BuildRoutes：构建挂载在 base 前缀下的路由
func BuildRoutes(m *session.Manager, base string) *mux.Router {
	s := NewServer(m, base)
	r := mux.NewRouter()
	api := r.PathPrefix(base).Subrouter()

	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	api.HandleFunc("/template.csv", s.template).Methods(http.MethodGet)

	api.HandleFunc("/talukas", s.withSession(s.talukas)).Methods(http.MethodGet)
	api.HandleFunc("/state", s.withSession(s.state)).Methods(http.MethodGet)
	api.HandleFunc("/select/{level}", s.withSession(s.selectLevel)).Methods(http.MethodPost)
	api.HandleFunc("/load", s.withSession(s.load)).Methods(http.MethodPost)
	api.HandleFunc("/bulk", s.withSession(s.bulk)).Methods(http.MethodPost)
	api.HandleFunc("/geojson", s.withSession(s.geojson)).Methods(http.MethodGet)

	api.HandleFunc("/map", s.withSession(s.mapView)).Methods(http.MethodGet)
	api.HandleFunc("/map/clear", s.withSession(s.mapClear)).Methods(http.MethodPost)
	api.HandleFunc("/map/labels", s.withSession(s.mapLabels)).Methods(http.MethodPost)
	api.HandleFunc("/map/fit", s.withSession(s.mapFit)).Methods(http.MethodPost)
	api.HandleFunc("/map/zoom", s.withSession(s.mapZoom)).Methods(http.MethodPost)
	api.HandleFunc("/map/pick", s.withSession(s.mapPick)).Methods(http.MethodGet)

	api.HandleFunc("/session", s.endSession).Methods(http.MethodDelete)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
