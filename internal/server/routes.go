package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/linkctl/internal/state"
	"github.com/danmuck/linkctl/internal/tables"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.Name,
			"version": s.cfg.Version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/generations", func(c *gin.Context) {
		gen, err := s.store.Generations()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gen)
	})

	t := s.router.Group("/tables")
	t.GET("/endpoints", s.listEndPoints)
	t.PUT("/endpoints", s.replaceEndPoints)
	t.POST("/endpoints", s.addEndPoint)
	t.PATCH("/endpoints/:index", s.updateEndPoint)
	t.DELETE("/endpoints/:index", s.removeEndPoint)

	t.GET("/connect", s.listConnect)
	t.PUT("/connect", s.replaceConnect)
	t.POST("/connect", s.addConnect)
	t.PATCH("/connect/:index", s.updateConnect)
	t.DELETE("/connect/:index", s.removeConnect)

	t.POST("/save", s.saveTables)

	s.router.GET("/lan-services", func(c *gin.Context) {
		peers, err := s.store.LANServices()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"services": peers})
	})

	s.router.GET("/instances", func(c *gin.Context) {
		recs, err := s.store.Instances()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"instances": recs})
	})
}

func (s *Server) listEndPoints(c *gin.Context) {
	rows, err := s.store.EndPoints()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": rows})
}

func (s *Server) replaceEndPoints(c *gin.Context) {
	var rows []tables.EndPointSpec
	if err := c.ShouldBindJSON(&rows); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetEndPoints(rows); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rows": len(rows)})
}

func (s *Server) addEndPoint(c *gin.Context) {
	var row tables.EndPointSpec
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	idx, err := s.store.AddEndPoint(row)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "index": idx})
}

func (s *Server) updateEndPoint(c *gin.Context) {
	idx, ok := rowIndex(c)
	if !ok {
		return
	}
	var row tables.EndPointSpec
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateEndPoint(idx, row); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": idx})
}

func (s *Server) removeEndPoint(c *gin.Context) {
	idx, ok := rowIndex(c)
	if !ok {
		return
	}
	if err := s.store.RemoveEndPoint(idx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listConnect(c *gin.Context) {
	rows, err := s.store.ConnectTo()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connect": rows})
}

func (s *Server) replaceConnect(c *gin.Context) {
	var rows []tables.ConnectSpec
	if err := c.ShouldBindJSON(&rows); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.SetConnectTo(rows); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rows": len(rows)})
}

func (s *Server) addConnect(c *gin.Context) {
	var row tables.ConnectSpec
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	idx, err := s.store.AddConnect(row)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok", "index": idx})
}

func (s *Server) updateConnect(c *gin.Context) {
	idx, ok := rowIndex(c)
	if !ok {
		return
	}
	var row tables.ConnectSpec
	if err := c.ShouldBindJSON(&row); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateConnect(idx, row); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": idx})
}

func (s *Server) removeConnect(c *gin.Context) {
	idx, ok := rowIndex(c)
	if !ok {
		return
	}
	if err := s.store.RemoveConnect(idx); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// saveTables writes the current tables back to the file they were loaded from.
func (s *Server) saveTables(c *gin.Context) {
	if s.cfg.TablesPath == "" {
		respondError(c, ErrNoTablesFile)
		return
	}
	endPoints, err := s.store.EndPoints()
	if err != nil {
		respondError(c, err)
		return
	}
	connect, err := s.store.ConnectTo()
	if err != nil {
		respondError(c, err)
		return
	}
	doc := tables.Document{EndPoints: endPoints, ConnectTo: connect}
	if err := tables.WriteFile(s.cfg.TablesPath, doc); err != nil {
		respondError(c, err)
		return
	}
	s.log.Info().Str("path", s.cfg.TablesPath).Int("endpoints", len(endPoints)).Int("connect", len(connect)).Msg("server.Server.saveTables")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "path": s.cfg.TablesPath})
}

func rowIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "row index must be a non-negative integer"})
		return 0, false
	}
	return idx, true
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, state.ErrRowIndex):
		status = http.StatusNotFound
	case errors.Is(err, state.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ErrNoTablesFile):
		status = http.StatusConflict
	case errors.Is(err, tables.ErrUnknownFormat):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
