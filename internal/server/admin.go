package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

func (s *Server) adminOthers(w http.ResponseWriter, r *http.Request) {
	features, err := s.store.OthersFeatures()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": features})
}

func (s *Server) adminUntagged(w http.ResponseWriter, r *http.Request) {
	features, err := s.store.UntaggedFeatures()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": features})
}

func (s *Server) adminTags(w http.ResponseWriter, r *http.Request) {
	tax, err := s.store.Taxonomy()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tax)
}

func (s *Server) adminUsedSubtags(w http.ResponseWriter, r *http.Request) {
	subtags, err := s.store.UsedSubtags()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"subtags": subtags})
}

func (s *Server) adminLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.UpdateLogs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (s *Server) adminGetChangelog(w http.ResponseWriter, r *http.Request) {
	content, err := s.store.RawChangelog(s.cfg.Data.SelfProduct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// adminPostChangelog saves the pasted markdown and kicks off the async
// parse-and-tag job for the self product.
func (s *Server) adminPostChangelog(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveRawChangelog(s.cfg.Data.SelfProduct, req.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.jobs.ParseAndTag != nil {
		s.runner.Start("parse", s.jobs.ParseAndTag)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "saved",
		"message": "saved, parse and tagging started",
	})
}

func (s *Server) adminGetConfig(w http.ResponseWriter, r *http.Request) {
	s.dataAdminConfig(w, r)
}

func (s *Server) adminPostConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExcludeTags []string `json:"exclude_tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.SaveExcludeTags(req.ExcludeTags); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// featureRef locates one feature inside one product document.
type featureRef struct {
	Product string `json:"product"`
	Key     string `json:"key"`
}

// adminOthersUpdate reclassifies an Others or untagged entry into a real
// (primary, subtag) pair, creating the subtag when needed.
func (s *Server) adminOthersUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		featureRef
		PrimaryTag string `json:"primary_tag"`
		Subtag     string `json:"subtag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PrimaryTag == "" || req.Subtag == "" {
		writeError(w, http.StatusBadRequest, "primary_tag and subtag are required")
		return
	}
	if err := s.store.Reclassify(req.Product, req.Key, req.PrimaryTag, req.Subtag); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminFeatureAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Product string         `json:"product"`
		Feature domain.Feature `json:"feature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Feature.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := s.store.AddFeature(req.Product, req.Feature); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"key":    storage.FeatureKey(req.Feature),
	})
}

func (s *Server) adminFeatureEdit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		featureRef
		Feature domain.Feature `json:"feature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.EditFeature(req.Product, req.Key, req.Feature); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminFeatureDelete(w http.ResponseWriter, r *http.Request) {
	var req featureRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.DeleteFeature(req.Product, req.Key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminFeatureUpdateTags(w http.ResponseWriter, r *http.Request) {
	var req struct {
		featureRef
		Tags []domain.FeatureTag `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.UpdateFeatureTags(req.Product, req.Key, req.Tags); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) adminFeatureMarkNone(w http.ResponseWriter, r *http.Request) {
	var req featureRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.MarkNone(req.Product, req.Key); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// adminTagRename renames a primary tag or a subtag everywhere it appears.
// The reported merge count is the number of feature assignments touched.
func (s *Server) adminTagRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldName string `json:"old_name"`
		NewName string `json:"new_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OldName == "" || req.NewName == "" {
		writeError(w, http.StatusBadRequest, "old_name and new_name are required")
		return
	}
	merged, err := s.store.RenameTag(req.OldName, req.NewName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reload(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "merged": merged})
}

// adminSearchFeatures is the paginated feature search. The index is rebuilt
// from the current documents on every call; the data set is small enough
// that this is cheaper than cache invalidation.
func (s *Server) adminSearchFeatures(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Product  string `json:"product"`
		Query    string `json:"query"`
		Page     int    `json:"page"`
		PageSize int    `json:"page_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	products, err := s.store.Products()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.index.Rebuild(products); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	results, total, err := s.index.Search(req.Product, req.Query, page, req.PageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"features": results,
		"total":    total,
		"page":     page,
	})
}
