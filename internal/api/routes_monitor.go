package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/rcon/internal/health"
	"github.com/energizer-project/rcon/internal/history"
)

type peerInfo struct {
	ID      string             `json:"id"`
	Address string             `json:"address"`
	Port    int                `json:"port"`
	Health  *health.PeerStatus `json:"health,omitempty"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "rcon",
		"version": s.version,
		"history": s.history != nil,
	})
}

// handleListPeers lists configured peers without their passwords.
func (s *Server) handleListPeers(c *gin.Context) {
	ids := s.cfg.PeerIDs()
	peers := make([]peerInfo, 0, len(ids))
	for _, id := range ids {
		p, _ := s.cfg.Peer(id)
		info := peerInfo{ID: id, Address: p.Address, Port: p.Port}
		if s.health != nil {
			if st, ok := s.health.StatusOf(id); ok {
				info.Health = &st
			}
		}
		peers = append(peers, info)
	}

	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

// handleHistory returns recent audit log entries, newest first.
func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command history is disabled"})
		return
	}

	q := history.Query{Peer: c.Query("peer")}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		q.Limit = n
	}

	records, err := s.history.Recent(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []history.Record{}
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}
