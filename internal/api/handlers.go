package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"cadastral-api/internal/catalog"
	"cadastral-api/internal/criteria"
	"cadastral-api/internal/filter"
	"cadastral-api/internal/logger"
	"cadastral-api/internal/render"
	"cadastral-api/internal/session"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
)

// maxUpload：批量条件文件上限
const maxUpload = 10 << 20

var (
	errStaleResults   = errors.New("results have changed, reload the table")
	errRecordNotFound = errors.New("record not found in current results")
	errBadRow         = errors.New("row must be a non-negative integer")
)

type sessionHandler func(w http.ResponseWriter, r *http.Request, c *session.Controller)

// withSession：按 cookie 取会话，缺失或过期时新建并下发 cookie
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id string
		if ck, err := r.Cookie(SessionCookie); err == nil {
			id = ck.Value
		}
		c, created, err := s.sessions.GetOrCreate(r.Context(), id)
		if err != nil {
			logger.L().Error("session_create_error", "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    c.ID(),
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   r.TLS != nil,
			})
		}
		h(w, r, c)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeHTML(w http.ResponseWriter, code int, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

// statusFor：错误到状态码的映射
func statusFor(err error) int {
	var fe *catalog.FetchError
	switch {
	case errors.Is(err, filter.ErrLevelDisabled):
		return http.StatusConflict
	case errors.Is(err, errStaleResults):
		return http.StatusConflict
	case errors.Is(err, errRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrVillageRequired),
		errors.Is(err, criteria.ErrTooFewLines),
		errors.Is(err, criteria.ErrMissingVillageColumn),
		errors.Is(err, criteria.ErrNoCriteria),
		errors.Is(err, errBadRow):
		return http.StatusBadRequest
	case errors.As(err, &fe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Count()})
}

func (s *Server) template(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/csv; charset=utf-8")
	w.Header().Set("content-disposition", mime.FormatMediaType("attachment", map[string]string{"filename": criteria.TemplateFileName}))
	_, _ = io.WriteString(w, criteria.Template())
}

func (s *Server) talukas(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	opts, err := c.Talukas(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"talukas": opts})
}

type stateView struct {
	Session string       `json:"session"`
	State   filter.State `json:"state"`
	Status  string       `json:"status,omitempty"`
	Spatial bool         `json:"spatial"`
	Loaded  []string     `json:"loaded"`
}

func (s *Server) stateOf(c *session.Controller) stateView {
	return stateView{
		Session: c.ID(),
		State:   c.State(),
		Status:  c.Status(),
		Spatial: c.SpatialEnabled(),
		Loaded:  c.Loader().Loaded(),
	}
}

func (s *Server) state(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	writeJSON(w, http.StatusOK, s.stateOf(c))
}

// selectLevel：请求体 {"value": "..."}，也接受表单字段 value
func (s *Server) selectLevel(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	level, err := filter.ParseLevel(mux.Vars(r)["level"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := readValue(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := c.Select(r.Context(), level, value); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.stateOf(c))
}

func readValue(r *http.Request) (string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("content-type"))
	if ct == "application/json" {
		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
			return "", err
		}
		return strings.TrimSpace(body.Value), nil
	}
	return strings.TrimSpace(r.FormValue("value")), nil
}

func (s *Server) load(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	rs, err := c.LoadData(r.Context(), c.State())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeResults(w, r, rs)
}

func (s *Server) writeResults(w http.ResponseWriter, r *http.Request, rs session.ResultSet) {
	if r.URL.Query().Get("format") == "html" {
		body, err := render.ResultsHTML(rs, s.render)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeHTML(w, http.StatusOK, body)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// bulk：multipart 字段 file，或直接以请求体提交 CSV 文本
func (s *Server) bulk(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	text, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	crits, err := criteria.Parse(text)
	if err != nil {
		writeError(w, statusFor(err), "Error: "+err.Error())
		return
	}
	if len(crits) == 0 {
		writeError(w, http.StatusBadRequest, criteria.ErrNoCriteria.Error())
		return
	}
	logger.L().Info("bulk_upload", "session", c.ID(), "criteria", len(crits), "bytes", len(text))
	rs, err := c.BulkSearch(r.Context(), crits)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeResults(w, r, rs)
}

func readUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("content-type"))
	if ct == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			return "", err
		}
		defer f.Close()
		b, err := io.ReadAll(f)
		return string(b), err
	}
	b, err := io.ReadAll(r.Body)
	return string(b), err
}

// lookupRecord：按 row（可带 seq 校验结果集未被替换）定位记录；
// 未给 row 时按 village/survey/subdiv 取第一条
func lookupRecord(r *http.Request, rs session.ResultSet) (session.Record, error) {
	q := r.URL.Query()
	if raw := q.Get("row"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil || i < 0 {
			return session.Record{}, errBadRow
		}
		if seq := q.Get("seq"); seq != "" && seq != strconv.FormatUint(rs.Seq, 10) {
			return session.Record{}, errStaleResults
		}
		rec, ok := rs.Row(i)
		if !ok {
			return session.Record{}, errRecordNotFound
		}
		return rec, nil
	}
	rec, ok := rs.Find(q.Get("village"), q.Get("survey"), q.Get("subdiv"))
	if !ok {
		return session.Record{}, errRecordNotFound
	}
	return rec, nil
}

// geojson：当前结果集中某条记录的几何下载
func (s *Server) geojson(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	rec, err := lookupRecord(r, c.Results())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !rec.HasShape() {
		writeError(w, http.StatusNotFound, "no geometry for "+rec.Village+"/"+rec.Survey+"/"+rec.Subdiv)
		return
	}
	w.Header().Set("content-type", "application/geo+json")
	w.Header().Set("content-disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": render.GeoJSONFileName(rec.Village, rec.Survey, rec.Subdiv)}))
	_, _ = io.WriteString(w, render.FormatGeoJSON(rec.Geometry))
}

func (s *Server) mapView(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	writeJSON(w, http.StatusOK, c.Display().Snapshot())
}

func (s *Server) mapClear(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	c.Display().Clear()
	writeJSON(w, http.StatusOK, c.Display().Snapshot())
}

func (s *Server) mapLabels(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	writeJSON(w, http.StatusOK, map[string]bool{"labels_visible": c.Display().ToggleLabels()})
}

func (s *Server) mapFit(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	fitted := c.Display().Fit()
	writeJSON(w, http.StatusOK, map[string]any{"fitted": fitted, "viewport": c.Display().Snapshot().Viewport})
}

func (s *Server) mapZoom(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	rec, err := lookupRecord(r, c.Results())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !c.Display().ZoomTo(rec.Shape) {
		writeError(w, http.StatusNotFound, "no geometry for "+rec.Village+"/"+rec.Survey+"/"+rec.Subdiv)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"viewport": c.Display().Snapshot().Viewport})
}

// mapPick：地图点选，返回该点所在的已显示地块
func (s *Server) mapPick(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	q := r.URL.Query()
	lon, err1 := strconv.ParseFloat(q.Get("lon"), 64)
	lat, err2 := strconv.ParseFloat(q.Get("lat"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "lon and lat are required")
		return
	}
	p, ok := c.Display().Pick(orb.Point{lon, lat})
	if !ok {
		writeError(w, http.StatusNotFound, "no parcel at this location")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(SessionCookie); err == nil {
		s.sessions.Delete(ck.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}
