package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alem-hub/reading-engine/internal/infrastructure/scheduler"
)

// GET /api/v1/admin/jobs
func (s *Server) handleListJobs(c *gin.Context) {
	writeData(c, http.StatusOK, s.deps.Jobs.ListJobs())
}

// POST /api/v1/admin/jobs/:name/run
func (s *Server) handleRunJob(c *gin.Context) {
	res, err := s.deps.Jobs.RunNow(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
		return
	case errors.Is(err, scheduler.ErrJobBusy):
		writeError(c, http.StatusConflict, "conflict", err.Error())
		return
	case err != nil && res == nil:
		s.writeDomainError(c, err)
		return
	}
	writeData(c, http.StatusOK, res)
}
