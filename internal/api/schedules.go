package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tfdgestao/relatorios/internal/auth"
	"github.com/tfdgestao/relatorios/internal/models"
	"github.com/tfdgestao/relatorios/internal/schedule"
)

func (s *Server) listSchedules(c *gin.Context) {
	filter := schedule.Filter{
		ReportType: models.ReportType(c.Query("report_type")),
		Recurrence: models.Recurrence(c.Query("recurrence")),
		Search:     c.Query("search"),
	}
	if active := c.Query("active"); active != "" {
		b, err := strconv.ParseBool(active)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active filter"})
			return
		}
		filter.Active = &b
	}
	if owner := c.Query("created_by"); owner != "" {
		id, err := strconv.ParseUint(owner, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid created_by filter"})
			return
		}
		filter.CreatedBy = uint(id)
	}

	page := schedule.Pagination{}
	page.Page, _ = strconv.Atoi(c.Query("page"))
	page.PageSize, _ = strconv.Atoi(c.Query("page_size"))

	result, err := s.service.List(c.Request.Context(), filter, page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sched, err := s.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) createSchedule(c *gin.Context) {
	var def models.ReportSchedule
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched, err := s.service.Create(c.Request.Context(), &def, c.GetUint(auth.KeyUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (s *Server) updateSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var update schedule.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sched, err := s.service.Update(c.Request.Context(), id, update)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.service.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule deleted successfully"})
}

func (s *Server) enableSchedule(c *gin.Context) {
	s.setActive(c, true)
}

func (s *Server) disableSchedule(c *gin.Context) {
	s.setActive(c, false)
}

func (s *Server) setActive(c *gin.Context, active bool) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sched, err := s.service.SetActive(c.Request.Context(), id, active)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) runSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	outcome, err := s.service.RunNow(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (s *Server) sweep(c *gin.Context) {
	outcomes, err := s.service.SweepNow(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}

func (s *Server) armedSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Armed())
}

func (s *Server) importSchedules(c *gin.Context) {
	var defs []models.ReportSchedule
	if err := c.ShouldBindJSON(&defs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.service.Import(c.Request.Context(), defs, c.GetUint(auth.KeyUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// exportSchedules returns every schedule definition, suitable for import.
func (s *Server) exportSchedules(c *gin.Context) {
	var all []models.ReportSchedule
	for page := 1; ; page++ {
		result, err := s.service.List(c.Request.Context(), schedule.Filter{}, schedule.Pagination{Page: page, PageSize: 100})
		if err != nil {
			writeError(c, err)
			return
		}
		all = append(all, result.Items...)
		if len(result.Items) == 0 || int64(len(all)) >= result.Total {
			break
		}
	}
	if all == nil {
		all = []models.ReportSchedule{}
	}
	c.JSON(http.StatusOK, all)
}
