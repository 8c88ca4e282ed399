package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"
)

// pagedResponse is the envelope for the paged list endpoints. PageSize echoes
// the value the repository actually used, after clamping.
type pagedResponse struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"pageSize"`
}

// pageParams parses page/pageSize with the shared defaults. It writes the
// 400 response itself; a false return means the caller must stop.
func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page := 1
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		parsedPage, err := strconv.Atoi(pageParam)
		if err != nil || parsedPage <= 0 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return 0, 0, false
		}
		page = parsedPage
	}

	pageSize := 50
	if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
		parsedSize, err := strconv.Atoi(sizeParam)
		if err != nil || parsedSize <= 0 {
			http.Error(w, "invalid pageSize", http.StatusBadRequest)
			return 0, 0, false
		}
		pageSize = parsedSize
	}
	if pageSize > 200 {
		pageSize = 200
	}

	return page, pageSize, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
