package transporthttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/engagekit/rewardpipe/internal/config"
	"github.com/engagekit/rewardpipe/internal/detect"
	"github.com/engagekit/rewardpipe/internal/domain"
	pgledger "github.com/engagekit/rewardpipe/internal/ledger/postgres"
	"github.com/engagekit/rewardpipe/internal/pipeline"
)

// ServerDeps carries the handler dependencies. Ledger is optional: the
// service runs without a submission capability (occurrences queue until
// one is attached), in which case readyz and the points summary degrade.
type ServerDeps struct {
	Cfg     config.Service
	Adapter *pipeline.Adapter
	Detect  *detect.Surface
	Ledger  *pgledger.Ledger
	Logger  *slog.Logger
	Now     func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fieldErrors(errs []domain.FieldError) map[string][]string {
	prob := map[string][]string{}
	for _, fe := range errs {
		prob[fe.Field] = append(prob[fe.Field], fe.Msg)
	}
	return prob
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if !d.Adapter.Status().Initialized {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "adapter not initialized", nil)
		return
	}
	if d.Ledger != nil {
		if err := d.Ledger.Ready(r.Context()); err != nil {
			WriteProblem(w, http.StatusServiceUnavailable, "not ready", "ledger not reachable", nil)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// --- Track (manual injection) ---

type trackReq struct {
	Kind     string         `json:"kind"`
	UserID   string         `json:"user_id,omitempty"`
	Origin   string         `json:"origin,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type trackResp struct {
	Forwarded bool `json:"forwarded"`
}

// HandlePostTrack bypasses the detection surface but not admission
// control or fingerprinting. Denials, queueing and submission failures
// all come back as forwarded=false, never as an error status.
func (d *ServerDeps) HandlePostTrack(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req trackReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateTrack(req.Kind, req.UserID, req.Metadata); len(errs) > 0 {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldErrors(errs))
		return
	}
	if req.Origin != "" && !d.Adapter.OriginAllowed(req.Origin) {
		WriteProblem(w, http.StatusForbidden, "origin not allowed", "origin is not in the allowlist", nil)
		return
	}

	forwarded := d.Adapter.Process(r.Context(), domain.Occurrence{
		Kind:     domain.ActionKind(req.Kind),
		UserID:   req.UserID,
		Origin:   req.Origin,
		Metadata: req.Metadata,
	})
	writeJSON(w, http.StatusOK, trackResp{Forwarded: forwarded})
}

// --- Signals (detection intake) ---

func (d *ServerDeps) HandlePostSignal(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var sig domain.Signal
	if err := decodeJSONStrict(r, &sig); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	if errs := domain.ValidateSignal(&sig, d.Now(), domain.DefaultClockSkew); len(errs) > 0 {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "one or more fields are invalid", fieldErrors(errs))
		return
	}
	if sig.Origin != "" && !d.Adapter.OriginAllowed(sig.Origin) {
		WriteProblem(w, http.StatusForbidden, "origin not allowed", "origin is not in the allowlist", nil)
		return
	}

	forwarded := d.Detect.HandleSignal(r.Context(), sig)
	writeJSON(w, http.StatusAccepted, trackResp{Forwarded: forwarded})
}

// --- Status ---

func (d *ServerDeps) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, d.Adapter.Status())
}

// --- Config (partial update) ---

type configPatchReq struct {
	MaxEventsPerHour    *int                                 `json:"max_events_per_hour,omitempty"`
	EnableAutoDetection *bool                                `json:"enable_auto_detection,omitempty"`
	RPCURL              *string                              `json:"rpc_url,omitempty"`
	AllowedOrigins      []string                             `json:"allowed_origins,omitempty"`
	EventMappings       map[domain.ActionKind]domain.Mapping `json:"event_mappings,omitempty"`
}

func (d *ServerDeps) HandlePatchConfig(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req configPatchReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	for kind, m := range req.EventMappings {
		if m.Points < 0 || m.CooldownMillis < 0 {
			WriteProblem(w, http.StatusBadRequest, "validation failed",
				"points and cooldown_ms must be non-negative for "+string(kind), nil)
			return
		}
	}

	d.Adapter.UpdateConfig(pipeline.ConfigPatch{
		MaxEventsPerHour: req.MaxEventsPerHour,
		AutoDetection:    req.EnableAutoDetection,
		RPCURL:           req.RPCURL,
		AllowedOrigins:   req.AllowedOrigins,
		Mappings:         req.EventMappings,
	})
	writeJSON(w, http.StatusOK, d.Adapter.Status())
}

// --- Points summary ---

func (d *ServerDeps) HandleGetPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if d.Ledger == nil {
		WriteProblem(w, http.StatusServiceUnavailable, "no ledger", "no submission capability attached", nil)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "user_id is required", nil)
		return
	}
	summary, err := d.Ledger.QueryPoints(r.Context(), userID)
	if err != nil {
		WriteProblem(w, http.StatusInternalServerError, "query error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.HandleHealthz)
	mux.HandleFunc("/readyz", d.HandleReadyz)

	keys := d.Cfg.APIKeys()

	var postTrack http.Handler = http.HandlerFunc(d.HandlePostTrack)
	postTrack = BodyLimit(d.Cfg.MaxBodyBytes)(postTrack)
	postTrack = RequireJSON(postTrack)
	postTrack = APIKeyAuth(keys)(postTrack)
	mux.Handle("/track", postTrack)

	var postSignal http.Handler = http.HandlerFunc(d.HandlePostSignal)
	postSignal = BodyLimit(d.Cfg.MaxBodyBytes)(postSignal)
	postSignal = RequireJSON(postSignal)
	postSignal = APIKeyAuth(keys)(postSignal)
	mux.Handle("/signals", postSignal)

	var patchConfig http.Handler = http.HandlerFunc(d.HandlePatchConfig)
	patchConfig = BodyLimit(d.Cfg.MaxBodyBytes)(patchConfig)
	patchConfig = RequireJSON(patchConfig)
	patchConfig = APIKeyAuth(keys)(patchConfig)
	mux.Handle("/config", patchConfig)

	mux.Handle("/status", APIKeyAuth(keys)(http.HandlerFunc(d.HandleGetStatus)))

	var getPoints http.Handler = http.HandlerFunc(d.HandleGetPoints)
	getPoints = RateLimitPerMinute(d.Cfg.RateLimitPointsPerMin, "/points", d.Now)(getPoints)
	getPoints = APIKeyAuth(keys)(getPoints)
	mux.Handle("/points", getPoints)

	return mux
}
