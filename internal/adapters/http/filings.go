package httpadapter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bme3412/clarity/internal/core/domain"
)

const maxUploadBytes = 64 << 20

func (rt *Router) uploadFiling(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	meta := domain.Filing{
		Entity:      r.FormValue("entity"),
		ContentType: r.FormValue("content_type"),
		Filename:    fileHeader.Filename,
		MimeType:    fileHeader.Header.Get("Content-Type"),
	}

	if raw := strings.TrimSpace(r.FormValue("period")); raw != "" {
		periods := domain.ParsePeriods(raw)
		if len(periods) == 0 {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload filing",
				fmt.Errorf("unparseable period %q", raw)))
			return
		}
		meta.Period = periods[0]
	} else if raw := strings.TrimSpace(r.FormValue("fiscal_year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload filing",
				fmt.Errorf("fiscal_year must be numeric")))
			return
		}
		quarter, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(r.FormValue("quarter"))), "Q"))
		if err != nil || quarter < 1 || quarter > 4 {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload filing",
				fmt.Errorf("quarter must be 1-4 or Q1-Q4")))
			return
		}
		meta.Period = domain.NewPeriod(year, quarter)
	}
	if raw := strings.TrimSpace(r.FormValue("published_at")); raw != "" {
		publishedAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "upload filing",
				fmt.Errorf("published_at must be RFC3339")))
			return
		}
		meta.PublishedAt = publishedAt
	}

	filing, err := rt.ingest.Upload(r.Context(), meta, file)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, filing)
}

func (rt *Router) getFilingByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("filing_id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filing id is required"})
		return
	}

	filing, err := rt.filings.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, filing)
}
