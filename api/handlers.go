package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"warden/core"
	"warden/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps request bodies; events and policies are small.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (a *API) captureEvent(w http.ResponseWriter, r *http.Request) {
	var event core.SecurityEvent
	if !decodeBody(w, r, &event) {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	outcome, err := a.monitor.CaptureEvent(r.Context(), &event)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, outcome)
}

func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	filters, err := parseEventFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := a.monitor.GetEvents(r.Context(), filters)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []core.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func parseEventFilters(r *http.Request) (storage.EventFilters, error) {
	q := r.URL.Query()
	filters := storage.EventFilters{
		SandboxID: q.Get("sandbox_id"),
		Type:      core.EventType(q.Get("type")),
		Severity:  core.Severity(q.Get("severity")),
	}
	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, err
		}
		filters.StartTime = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, err
		}
		filters.EndTime = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filters, err
		}
		filters.Limit = n
	}
	return filters, nil
}

func (a *API) getPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.Policies())
}

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, p := range a.monitor.Policies() {
		if p.ID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeDomainError(w, core.ErrPolicyNotFound)
}

func (a *API) applyPolicy(w http.ResponseWriter, r *http.Request) {
	var policy core.SecurityPolicy
	if !decodeBody(w, r, &policy) {
		return
	}
	if err := a.monitor.ApplyPolicy(&policy); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": policy.ID})
}

func (a *API) removePolicy(w http.ResponseWriter, r *http.Request) {
	a.monitor.RemovePolicy(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getQuarantines(w http.ResponseWriter, r *http.Request) {
	records, err := a.quarantine.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []core.QuarantineRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) releaseQuarantine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.quarantine.Release(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	record, err := a.quarantine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) isQuarantined(w http.ResponseWriter, r *http.Request) {
	sandboxID := mux.Vars(r)["id"]
	quarantined, err := a.quarantine.IsQuarantined(r.Context(), sandboxID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"quarantined": quarantined})
}

func (a *API) sandboxQuarantines(w http.ResponseWriter, r *http.Request) {
	records, err := a.quarantine.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []core.QuarantineRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *API) createProvenance(w http.ResponseWriter, r *http.Request) {
	var result core.SandboxResult
	if !decodeBody(w, r, &result) {
		return
	}

	// The attestation covers the events captured for this sandbox.
	events, err := a.monitor.GetEvents(r.Context(), storage.EventFilters{SandboxID: result.SandboxID})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	record, err := a.provenance.CreateProvenance(r.Context(), &result, events)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (a *API) getProvenance(w http.ResponseWriter, r *http.Request) {
	record, err := a.provenance.GetProvenance(r.Context(), mux.Vars(r)["sandboxId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) verifyProvenance(w http.ResponseWriter, r *http.Request) {
	record, err := a.provenance.GetProvenance(r.Context(), mux.Vars(r)["sandboxId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	valid, err := a.provenance.Verify(record)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type anchorRequest struct {
	ChainID string `json:"chain_id"`
}

func (a *API) anchorProvenance(w http.ResponseWriter, r *http.Request) {
	var req anchorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChainID == "" {
		writeError(w, http.StatusBadRequest, "chain_id is required")
		return
	}

	receipt, err := a.provenance.AnchorOnChain(r.Context(), mux.Vars(r)["sandboxId"], req.ChainID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// parseWindow reads a "window" query parameter in milliseconds.
func parseWindow(r *http.Request, fallback time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return 0, strconv.ErrSyntax
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (a *API) aggregateEvents(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 15*time.Minute)
	if err != nil {
		writeError(w, http.StatusBadRequest, "window must be a positive number of milliseconds")
		return
	}

	report, err := a.monitor.AggregateWindow(r.Context(), window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) getCorrelations(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, 15*time.Minute)
	if err != nil {
		writeError(w, http.StatusBadRequest, "window must be a positive number of milliseconds")
		return
	}

	results, err := a.monitor.Correlate(r.Context(), window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.monitor.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
