package server

import (
	"net/http"
	"path"
	"strings"

	"github.com/Yrzhe/vibe-coding-product-changelog/internal/domain"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/loader"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/matrix"
	"github.com/Yrzhe/vibe-coding-product-changelog/internal/storage"
)

// snapshot returns the loader's current view, loading on first use.
func (s *Server) snapshot(r *http.Request) (*loader.Snapshot, error) {
	if snap := s.loader.Snapshot(); snap != nil {
		return snap, nil
	}
	return s.loader.Load(r.Context())
}

// excludeTags reads the curated hide-list; errors degrade to no exclusions.
func (s *Server) excludeTags() []string {
	cfg, err := s.store.AdminConfig()
	if err != nil {
		return nil
	}
	return cfg.ExcludeTags
}

// dataTags serves the taxonomy in its legacy list shape, the one shape every
// consumer of /data understands.
func (s *Server) dataTags(w http.ResponseWriter, r *http.Request) {
	tax, err := s.store.Taxonomy()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tax.PrimaryTags)
}

// dataAdminConfig exposes exclude_tags only; the password stays server-side.
func (s *Server) dataAdminConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.AdminConfig()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	excluded := cfg.ExcludeTags
	if excluded == nil {
		excluded = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"exclude_tags": excluded})
}

func (s *Server) dataSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// dataProduct serves one product document in its on-disk two-record shape.
func (s *Server) dataProduct(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("product"), ".json")
	p, err := s.store.Product(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	records := []interface{}{
		domain.AppInfo{Name: p.Name, URL: p.URL, IsSelf: p.IsSelf},
		map[string]interface{}{"name": storage.FeatureRecordName, "features": p.Features},
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) dataLogIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.store.LogIndex()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) dataLogFile(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.PathValue("file"))
	logEntry, err := s.store.UpdateLog(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "log not found")
		return
	}
	writeJSON(w, http.StatusOK, logEntry)
}

// MatrixRow is one (primary, secondary) row with the products present in it.
type MatrixRow struct {
	domain.TagRow
	Products []string `json:"products"`
}

// getMatrix cross-tabulates the flattened taxonomy against every product.
func (s *Server) getMatrix(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tags := matrix.FilterTaxonomy(snap.Tags, s.excludeTags())
	rows := matrix.FlattenTags(tags)

	out := make([]MatrixRow, 0, len(rows))
	for _, row := range rows {
		present := []string{}
		for _, p := range snap.Products {
			if matrix.ProductHasTag(p, row.PrimaryTag, row.SecondaryTag) {
				present = append(present, p.Name)
			}
		}
		out = append(out, MatrixRow{TagRow: row, Products: present})
	}

	names := make([]string, len(snap.Products))
	for i, p := range snap.Products {
		names[i] = p.Name
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rows":     out,
		"products": names,
	})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type productInfo struct {
		Name         string `json:"name"`
		URL          string `json:"url"`
		IsSelf       bool   `json:"is_self,omitempty"`
		FeatureCount int    `json:"feature_count"`
	}
	out := make([]productInfo, len(snap.Products))
	for i, p := range snap.Products {
		out[i] = productInfo{Name: p.Name, URL: p.URL, IsSelf: p.IsSelf, FeatureCount: len(p.Features)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	p, ok := snap.Product(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// getTagFeatures lists every product's features under one (primary,
// secondary) pair, newest first.
func (s *Server) getTagFeatures(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	features := matrix.TagFeatures(snap.Products, r.PathValue("primary"), r.PathValue("secondary"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"features": features})
}
