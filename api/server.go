package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"atlas/manager"
	"atlas/trader"
)

// Server HTTP API server
type Server struct {
	router        *gin.Engine
	traderManager *manager.TraderManager
	port          int
}

// NewServer creates API server
func NewServer(traderManager *manager.TraderManager, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		log.Printf("📥 Incoming request: %s %s (from %s)",
			c.Request.Method, c.Request.URL.Path, c.ClientIP())
		c.Next()
	})
	router.Use(corsMiddleware())

	s := &Server{
		router:        router,
		traderManager: traderManager,
		port:          port,
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.Any("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/competition", s.handleCompetition)
		api.GET("/traders", s.handleTraderList)

		// Trader-specific data (query parameter ?trader_id=xxx)
		api.GET("/status", s.handleStatus)
		api.GET("/account", s.handleAccount)
		api.GET("/positions", s.handlePositions)
		api.GET("/decisions", s.handleDecisions)
		api.GET("/decisions/latest", s.handleLatestDecisions)
		api.GET("/statistics", s.handleStatistics)
		api.GET("/equity-history", s.handleEquityHistory)
		api.GET("/performance", s.handlePerformance)
	}

	s.router.NoRoute(func(c *gin.Context) {
		log.Printf("❌ 404 - Route not found: %s %s", c.Request.Method, c.Request.URL.Path)
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("route not found: %s %s", c.Request.Method, c.Request.URL.Path),
		})
	})
}

// Start starts the server. Blocks until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("🌐 API server listening on %s", addr)
	return s.router.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// getTraderFromQuery resolves ?trader_id=, defaulting to the first trader
func (s *Server) getTraderFromQuery(c *gin.Context) (*trader.AutoTrader, error) {
	traderID := c.Query("trader_id")
	if traderID == "" {
		ids := s.traderManager.GetTraderIDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("no available trader")
		}
		traderID = ids[0]
	}
	return s.traderManager.GetTrader(traderID)
}

// handleCompetition cross-trader comparison
func (s *Server) handleCompetition(c *gin.Context) {
	c.JSON(http.StatusOK, s.traderManager.GetComparisonData())
}

// handleTraderList registered trader IDs and names
func (s *Server) handleTraderList(c *gin.Context) {
	var traders []gin.H
	for id, t := range s.traderManager.GetAllTraders() {
		traders = append(traders, gin.H{
			"id":       id,
			"name":     t.GetName(),
			"ai_model": t.GetAIModel(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"traders": traders, "count": len(traders)})
}

func (s *Server) handleStatus(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, t.GetStatus())
}

func (s *Server) handleAccount(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	account, err := t.GetAccountInfo()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get account: %v", err)})
		return
	}
	c.JSON(http.StatusOK, account)
}

func (s *Server) handlePositions(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	positions, err := t.GetPositions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get positions: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

// handleDecisions decision history, newest last, ?limit= caps count
func (s *Server) handleDecisions(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := t.GetDecisionLogger().GetLatestRecords(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to read decisions: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": records, "count": len(records)})
}

func (s *Server) handleLatestDecisions(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	records, err := t.GetDecisionLogger().GetLatestRecords(1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to read decisions: %v", err)})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusOK, gin.H{"decision": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": records[len(records)-1]})
}

func (s *Server) handleStatistics(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	stats, err := t.GetDecisionLogger().GetStatistics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get statistics: %v", err)})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleEquityHistory(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	history, err := t.GetDecisionLogger().GetEquityHistory()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to get equity history: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

func (s *Server) handlePerformance(c *gin.Context) {
	t, err := s.getTraderFromQuery(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	analysis, err := t.GetDecisionLogger().AnalyzePerformance(0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to analyze performance: %v", err)})
		return
	}
	c.JSON(http.StatusOK, analysis)
}
