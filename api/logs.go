package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomyedwab/emuhub/processes"
)

// parseFilter reads the level, class and from query parameters. level and
// class may be repeated or comma separated.
func parseFilter(r *http.Request) (processes.Filter, error) {
	var f processes.Filter
	q := r.URL.Query()
	for _, name := range splitParam(q["level"]) {
		level, err := processes.ParseLevel(name)
		if err != nil {
			return f, err
		}
		f.Levels = append(f.Levels, level)
	}
	f.Classes = splitParam(q["class"])
	if from := q.Get("from"); from != "" {
		id, err := strconv.ParseInt(from, 10, 64)
		if err != nil || id < 0 {
			return f, fmt.Errorf("invalid from %q", from)
		}
		f.FromID = id
	}
	return f, nil
}

func splitParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// handleLogs handles GET /api/running/{id}/logs. format=text returns the
// export format instead of JSON.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	rg, ok := s.runningGame(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := rg.Log.Export(w, filter); err != nil {
			s.logger.Error("Failed to export logs", "id", rg.ID, "error", err)
		}
		return
	}
	entries := rg.Log.Entries(filter)
	if entries == nil {
		entries = []processes.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleLogStream handles GET /api/running/{id}/logs/stream. Matching entries
// already in the buffer are sent first, then new entries as they are logged.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	rg, ok := s.runningGame(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("Response writer does not support flushing")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	logger := s.logger.With("id", rg.ID)

	// Subscribe before reading the backlog so nothing is missed in between.
	send := make(chan processes.LogEntry, 256)
	remove := rg.Log.AddCallback(func(entry processes.LogEntry) {
		select {
		case send <- entry:
		default:
			logger.Debug("Skipping log entry for slow client", "rowId", entry.ID)
		}
	})
	defer remove()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastID := filter.FromID
	for _, entry := range rg.Log.Entries(filter) {
		if err := writeLogEvent(w, entry); err != nil {
			return
		}
		lastID = entry.ID
	}
	flusher.Flush()
	logger.Info("Log stream started", "fromId", lastID)

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()
	for {
		select {
		case entry := <-send:
			if entry.ID <= lastID || !filter.Match(entry) {
				continue
			}
			if err := writeLogEvent(w, entry); err != nil {
				logger.Info("Failed to write log event", "error", err)
				return
			}
			lastID = entry.ID
			flusher.Flush()
		case <-ticker.C:
			if err := writeSSEEvent(w, "keepalive", ""); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			logger.Info("Log stream client disconnected")
			return
		}
	}
}

func writeLogEvent(w http.ResponseWriter, entry processes.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return writeSSEEvent(w, "log", string(data))
}

// writeSSEEvent writes a Server-Sent Event. The caller flushes.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if eventType != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
			return err
		}
	}
	if data != "" {
		if _, err := fmt.Fprintf(w, "data: %s\n", data); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
