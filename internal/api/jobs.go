package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Sternrassler/github-scraper/pkg/export"
	"github.com/Sternrassler/github-scraper/pkg/jobs"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var filter jobs.Filter
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := jobs.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		filter.Status = &st
	}
	limit, err := queryInt(r, "limit", jobs.DefaultListLimit, 1, jobListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	filter.Limit = limit

	writeJSON(w, http.StatusOK, s.deps.Jobs.List(filter))
}

func (s *Server) handleJobStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Jobs.Stats())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.deps.Jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found", "job not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Jobs.Delete(id) {
		writeError(w, http.StatusNotFound, "job_not_found", "job not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "job " + id + " deleted"})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Jobs.Cancel(id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "job " + id + " cancelled"})
}

type fileEntry struct {
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"download_url"`
	ModifiedAt  time.Time `json:"modified_at"`
}

func downloadURL(jobID, filename string) string {
	return "/api/v1/download/" + jobID + "/" + filename
}

func (s *Server) handleExportFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.deps.Jobs.Get(id); !ok {
		writeError(w, http.StatusNotFound, "job_not_found", "job not found: "+id)
		return
	}
	files, err := s.deps.Exporter.Files(id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	out := make([]fileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, fileEntry{
			Filename:    f.Name,
			Size:        f.Size,
			DownloadURL: downloadURL(id, f.Name),
			ModifiedAt:  f.ModifiedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      id,
		"files":       out,
		"total_files": len(out),
	})
}

// handleExport re-exports a completed job. With download=true the first file
// is streamed back instead of the listing.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	download, err := queryBool(r, "download", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	paths, err := s.deps.Runner.Export(r.Context(), id, format)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	if download && len(paths) > 0 {
		serveAttachment(w, r, paths[0])
		return
	}

	info := map[string]export.FileInfo{}
	if files, err := s.deps.Exporter.Files(id); err == nil {
		for _, f := range files {
			info[f.Name] = f
		}
	}
	out := make([]fileEntry, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		out = append(out, fileEntry{
			Filename:    name,
			Size:        info[name].Size,
			DownloadURL: downloadURL(id, name),
			ModifiedAt:  info[name].ModifiedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"job_id":  id,
		"format":  format,
		"files":   out,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, err := s.deps.Exporter.Resolve(chi.URLParam(r, "id"), chi.URLParam(r, "filename"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	serveAttachment(w, r, path)
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}
