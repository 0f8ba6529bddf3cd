package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"banward/pkg/blocker"
	"banward/pkg/store"
	"banward/pkg/unixtime"
)

func writeError(err error, w http.ResponseWriter, code int) {
	w.WriteHeader(code)
	fmt.Fprintf(w, "%v, %v", code, http.StatusText(code))
	log.Error("request failed", "error", err)
}

func writeSuccess(w http.ResponseWriter) {
	res := struct {
		Success bool `json:"success"`
	}{
		Success: true,
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		writeError(err, w, http.StatusInternalServerError)
	}
}

type attemptEvent struct {
	Timestamp unixtime.Time `json:"timestamp"`
}

// reportAttempt takes one authentication-failure event. A malformed event is
// dropped with a diagnostic, never fatal to the process.
func (s *Server) reportAttempt(w http.ResponseWriter, r *http.Request) {
	event := uuid.New()

	address, err := normalizeAddress(mux.Vars(r)["ip"])
	if err != nil {
		log.Warn("dropped malformed event", "event", event, "error", err)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "%v bad request, unresolvable address", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}

	// ContentLength is -1 on chunked requests, so detect a body by reading it.
	ts := time.Now().Unix()
	if len(bytes.TrimSpace(body)) > 0 {
		var e attemptEvent
		if err := json.Unmarshal(body, &e); err != nil {
			log.Warn("dropped malformed event", "event", event, "address", address, "error", err)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "%v bad request, invalid event data", http.StatusBadRequest)
			return
		}
		ts = e.Timestamp.Time().Unix()
	}

	banned, err := s.daemon.OnAttempt(address, ts)
	if err != nil {
		// The ban decision stuck; only the firewall insert failed and the
		// sweep will retry it.
		log.Error("failed to install block", "event", event, "address", address, "error", err)
	}

	res := struct {
		Banned bool `json:"banned"`
	}{
		Banned: banned,
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		writeError(err, w, http.StatusInternalServerError)
	}
}

type recordView struct {
	Address    string  `json:"address"`
	Status     string  `json:"status"`
	Timestamps []int64 `json:"timestamps"`
}

func (s *Server) listRecords(w http.ResponseWriter, _ *http.Request) {
	records, err := s.daemon.Records()
	if err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}

	res := make([]recordView, 0, len(records))
	for _, r := range records {
		res = append(res, recordView{
			Address:    r.Address,
			Status:     r.Status.String(),
			Timestamps: r.Timestamps,
		})
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		writeError(err, w, http.StatusInternalServerError)
	}
}

type banView struct {
	Address  string        `json:"address"`
	BannedAt unixtime.Time `json:"banned_at"`
	Expires  unixtime.Time `json:"expires"`
}

func (s *Server) listBanned(w http.ResponseWriter, _ *http.Request) {
	banned, err := s.daemon.Banned()
	if err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}
	policy, err := s.daemon.GetPolicy()
	if err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}

	res := make([]banView, 0, len(banned))
	for _, r := range banned {
		start := r.Last()
		res = append(res, banView{
			Address:  r.Address,
			BannedAt: unixtime.FromUnix(start),
			Expires:  unixtime.FromUnix(start + int64(policy.BanTime/time.Second)),
		})
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		writeError(err, w, http.StatusInternalServerError)
	}
}

func (s *Server) unban(w http.ResponseWriter, r *http.Request) {
	address, err := normalizeAddress(mux.Vars(r)["ip"])
	if err != nil {
		writeError(err, w, http.StatusBadRequest)
		return
	}

	if err := s.daemon.Unban(address); err != nil {
		if err == store.NotFoundErr {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "%v bad request, %v is not banned", http.StatusBadRequest, address)
			return
		}
		writeError(err, w, http.StatusInternalServerError)
		return
	}

	writeSuccess(w)
}

func (s *Server) whitelist(w http.ResponseWriter, r *http.Request) {
	address, err := normalizeAddress(mux.Vars(r)["ip"])
	if err != nil {
		writeError(err, w, http.StatusBadRequest)
		return
	}

	if err := s.daemon.Whitelist(address); err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}

	writeSuccess(w)
}

func (s *Server) getPolicy(w http.ResponseWriter, _ *http.Request) {
	policy, err := s.daemon.GetPolicy()
	if err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(policy); err != nil {
		writeError(err, w, http.StatusInternalServerError)
	}
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	var policy blocker.Policy
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(err, w, http.StatusBadRequest)
		return
	}

	if policy.Attempts < 1 || policy.Period <= 0 || policy.BanTime <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "%v bad request, invalid policy", http.StatusBadRequest)
		return
	}

	if err := s.daemon.UpdatePolicy(policy); err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}
	writeSuccess(w)
}

func (s *Server) flush(w http.ResponseWriter, _ *http.Request) {
	if err := s.daemon.Flush(); err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}
	writeSuccess(w)
}

func (s *Server) reset(w http.ResponseWriter, _ *http.Request) {
	if err := s.daemon.ResetAll(); err != nil {
		writeError(err, w, http.StatusInternalServerError)
		return
	}
	writeSuccess(w)
}

// normalizeAddress canonicalizes an IP or CIDR. CIDR forms are kept verbatim
// as opaque keys, they are never range-matched against single addresses.
func normalizeAddress(s string) (string, error) {
	if strings.Contains(s, "/") {
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return "", err
		}
		return ipnet.String(), nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return "", fmt.Errorf("unresolvable address %q", s)
	}
	return ip.String(), nil
}
