package api

import "net/http"

// GetTranslations handles GET /api/translations?lang=xx. Unknown or
// unloaded languages get 404 with an empty object.
func (s *Server) GetTranslations(w http.ResponseWriter, r *http.Request) {
	catalog, ok := s.deps.Catalogs.Get(r.URL.Query().Get("lang"))
	if !ok {
		writeRaw(w, http.StatusNotFound, []byte("{}"))
		return
	}
	writeRaw(w, http.StatusOK, catalog)
}
