package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/dbehnke/dvbs2-tablegen/pkg/artifact"
	"github.com/dbehnke/dvbs2-tablegen/pkg/batch"
	"github.com/dbehnke/dvbs2-tablegen/pkg/dvbs2"
	"github.com/dbehnke/dvbs2-tablegen/pkg/ldpc"
	"github.com/dbehnke/dvbs2-tablegen/pkg/logger"
	"github.com/dbehnke/dvbs2-tablegen/pkg/signalling"
)

// CompileRequest selects the codes of a batch run. Empty lists select all.
type CompileRequest struct {
	Frames []string `json:"frames"`
	Rates  []string `json:"rates"`
}

// CodeInfo describes one LDPC code and its stored artifact
type CodeInfo struct {
	Key          dvbs2.Key      `json:"key"`
	N            int            `json:"n"`
	K            int            `json:"k"`
	M            int            `json:"m"`
	Q            int            `json:"q"`
	Groups       int            `json:"groups"`
	CRCLength    int            `json:"crc_length"`
	PayloadBytes *int           `json:"payload_bytes,omitempty"`
	Artifact     *ArtifactInfo  `json:"artifact,omitempty"`
	Metadata     *ldpc.Metadata `json:"metadata,omitempty"`
}

// ArtifactInfo reports the state of a stored address table
type ArtifactInfo struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConstellationInfo is the mapper view of one configuration
type ConstellationInfo struct {
	Frame         dvbs2.FrameSize     `json:"frame"`
	Rate          dvbs2.CodeRate      `json:"rate"`
	Constellation dvbs2.Constellation `json:"constellation"`
	Radii         []float64           `json:"radii"`
	Energy        float64             `json:"average_energy"`
	Points        []signalling.Point  `json:"points"`
	Words         []string            `json:"mapper_words"`
}

type compileStatus struct {
	Compiling bool          `json:"compiling"`
	LastRun   *runSummary   `json:"last_run,omitempty"`
	LastEvent *eventSummary `json:"last_event,omitempty"`
	Clients   int           `json:"clients"`
}

type eventSummary struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

type runSummary struct {
	RunID    string  `json:"run_id"`
	Compiled int     `json:"compiled"`
	Skipped  int     `json:"skipped"`
	Failed   int     `json:"failed"`
	Duration float64 `json:"duration_seconds"`
	Error    string  `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	if err := writeJSON(w, status, v); err != nil {
		s.logger.Error("failed to encode JSON response", logger.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, dvbs2.ErrUnsupportedConfiguration),
		errors.Is(err, dvbs2.ErrInvalidFrameLength):
		return http.StatusNotFound
	case errors.Is(err, ErrCompileRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func parseKey(vars map[string]string) (dvbs2.Key, error) {
	frame, err := dvbs2.ParseFrameSize(vars["frame"])
	if err != nil {
		return dvbs2.Key{}, err
	}
	rate, err := dvbs2.ParseCodeRate(vars["rate"])
	if err != nil {
		return dvbs2.Key{}, err
	}
	return dvbs2.Key{Frame: frame, Rate: rate}, nil
}

func parseConfig(r *http.Request) (dvbs2.Config, error) {
	vars := mux.Vars(r)
	key, err := parseKey(vars)
	if err != nil {
		return dvbs2.Config{}, err
	}
	c, err := dvbs2.ParseConstellation(vars["constellation"])
	if err != nil {
		return dvbs2.Config{}, err
	}
	cfg := dvbs2.Config{Frame: key.Frame, Rate: key.Rate, Constellation: c}
	if p := r.URL.Query().Get("pilots"); p != "" {
		cfg.Pilots, err = strconv.ParseBool(p)
		if err != nil {
			return dvbs2.Config{}, fmt.Errorf("invalid pilots value %q", p)
		}
	}
	return cfg, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (s *Server) codeInfo(key dvbs2.Key, withArtifact bool) (CodeInfo, error) {
	params, err := dvbs2.LookupLDPC(key.Frame, key.Rate)
	if err != nil {
		return CodeInfo{}, err
	}
	info := CodeInfo{
		Key:       key,
		N:         params.N(),
		K:         params.K(),
		M:         params.M,
		Q:         params.Q,
		Groups:    params.Groups(),
		CRCLength: dvbs2.CRCLength(key.Frame, key.Rate),
	}
	if payload, err := dvbs2.PayloadLength(key.Frame, key.Rate); err == nil {
		info.PayloadBytes = &payload
	}
	if !withArtifact {
		return info, nil
	}

	ai := &ArtifactInfo{Path: s.store.Path(key)}
	table, err := s.store.Load(key)
	switch {
	case err == nil:
		ai.Valid = true
		ai.Entries = len(table.Entries)
		if md, err := ldpc.DescribeTable(table); err == nil {
			info.Metadata = &md
		} else {
			ai.Error = err.Error()
		}
	case artifact.IsMissing(err):
	default:
		ai.Error = err.Error()
	}
	info.Artifact = ai
	return info, nil
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	keys := dvbs2.Keys()
	codes := make([]CodeInfo, 0, len(keys))
	for _, key := range keys {
		info, err := s.codeInfo(key, false)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err)
			return
		}
		codes = append(codes, info)
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"codes":          codes,
		"constellations": dvbs2.Constellations,
		"configs":        len(dvbs2.Configs()),
	})
}

func (s *Server) handleLDPC(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(mux.Vars(r))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	info, err := s.codeInfo(key, true)
	if err != nil {
		s.respondError(w, errorStatus(err), err)
		return
	}
	s.respond(w, http.StatusOK, info)
}

func (s *Server) handleGeometry(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseConfig(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	consts, err := artifact.Derive(cfg)
	if err != nil {
		s.respondError(w, errorStatus(err), err)
		return
	}
	s.respond(w, http.StatusOK, consts)
}

func (s *Server) handleConstellation(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseConfig(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	radii, err := signalling.RingRadii(cfg.Frame, cfg.Constellation, cfg.Rate)
	if err != nil {
		s.respondError(w, errorStatus(err), err)
		return
	}
	points, err := signalling.Points(cfg.Frame, cfg.Constellation, cfg.Rate)
	if err != nil {
		s.respondError(w, errorStatus(err), err)
		return
	}

	words := signalling.MapperWords(points)
	hex := make([]string, len(words))
	for i, word := range words {
		hex[i] = fmt.Sprintf("%08x", word)
	}

	s.respond(w, http.StatusOK, ConstellationInfo{
		Frame:         cfg.Frame,
		Rate:          cfg.Rate,
		Constellation: cfg.Constellation,
		Radii:         radii,
		Energy:        signalling.AverageEnergy(points),
		Points:        points,
		Words:         hex,
	})
}

func (s *Server) handleACM(w http.ResponseWriter, r *http.Request) {
	cfg, err := parseConfig(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	b, ok := signalling.ACMByte(cfg.Frame, cfg.Constellation, cfg.Rate, cfg.Pilots)
	if !ok {
		s.respondError(w, http.StatusNotFound,
			fmt.Errorf("%w: no MODCOD for %s", dvbs2.ErrUnsupportedConfiguration, cfg))
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"config":   cfg,
		"acm_byte": b,
		"hex":      fmt.Sprintf("%02x", b),
	})
}

func (s *Server) handleTableDownload(w http.ResponseWriter, r *http.Request) {
	key, err := parseKey(mux.Vars(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !dvbs2.Valid(key.Frame, key.Rate) {
		http.Error(w, fmt.Sprintf("no LDPC code for %s", key), http.StatusNotFound)
		return
	}
	table, err := s.store.Load(key)
	if err != nil {
		http.Error(w, "no valid address table for "+key.String(), http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/csv")
		if err := table.WriteText(w); err != nil {
			s.logger.Error("failed to write table", logger.Error(err))
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.bin", key))
	if _, err := table.WriteTo(w); err != nil {
		s.logger.Error("failed to write table", logger.Error(err))
	}
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()

	tasks, err := s.StartCompile(ctx, req)
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		s.respondError(w, status, err)
		return
	}
	s.logger.Info("Batch run requested", logger.Int("tasks", tasks), logger.String("remote", r.RemoteAddr))
	s.respond(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
		"tasks":  tasks,
	})
}

func (s *Server) handleCompileStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, s.compileStatus())
}

func (s *Server) compileStatus() compileStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := compileStatus{Compiling: s.compiling, Clients: s.hub.ClientCount()}
	if s.lastEvent != nil {
		st.LastEvent = &eventSummary{
			Type:  s.lastEvent.Type,
			RunID: s.lastEvent.RunID,
			Done:  s.lastEvent.Done,
			Total: s.lastEvent.Total,
		}
	}
	if rep := s.lastRun; rep != nil {
		sum := &runSummary{
			RunID:    rep.RunID,
			Compiled: rep.Count(batch.StatusCompiled),
			Skipped:  rep.Count(batch.StatusSkipped),
			Failed:   rep.Count(batch.StatusFailed),
			Duration: rep.Duration.Seconds(),
		}
		if s.lastErr != nil {
			sum.Error = s.lastErr.Error()
		}
		st.LastRun = sum
	}
	return st
}
