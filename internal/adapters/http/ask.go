package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bme3412/clarity/internal/core/domain"
)

type askRequest struct {
	Question string            `json:"question"`
	Strategy string            `json:"strategy,omitempty"`
	Entity   string            `json:"entity,omitempty"`
	Period   string            `json:"period,omitempty"`
	TopK     int               `json:"top_k,omitempty"`
	History  []domain.ChatTurn `json:"history,omitempty"`
}

func (req askRequest) toQuery() (domain.Query, error) {
	if strings.TrimSpace(req.Question) == "" {
		return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is required"))
	}

	strategy := domain.StrategyAuto
	if req.Strategy != "" {
		strategy = domain.Strategy(req.Strategy)
		if !strategy.Valid() {
			return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("unknown strategy %q", req.Strategy))
		}
	}

	query := domain.Query{
		Text:       req.Question,
		Strategy:   strategy,
		EntityHint: strings.TrimSpace(req.Entity),
		TopK:       req.TopK,
		History:    req.History,
	}
	if strings.TrimSpace(req.Period) != "" {
		periods := domain.ParsePeriods(req.Period)
		if len(periods) == 0 {
			return domain.Query{}, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("unparseable period %q", req.Period))
		}
		query.PeriodHint = &periods[0]
	}
	return query, nil
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	query, err := req.toQuery()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	answer, err := rt.answers.Answer(r.Context(), query)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// askStream delivers the pipeline as server-sent events: one data: line per
// event, closed by data: [DONE]. Errors after the stream has started arrive
// as an error event, not a status code.
func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	query, err := req.toQuery()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(event domain.AnswerEvent) {
		payload, err := json.Marshal(event)
		if err != nil {
			rt.logger.Error("marshal stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	if err := rt.answers.AnswerStream(r.Context(), query, emit); err != nil {
		rt.logger.Warn("stream ended with error",
			"request_id", requestIDFromContext(r.Context()),
			"error", err)
	}

	io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (rt *Router) entities(w http.ResponseWriter, r *http.Request) {
	coverage, err := rt.tools.AvailableData(r.Context(), r.URL.Query().Get("entity"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	if coverage == nil {
		coverage = []domain.EntityCoverage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": coverage})
}
