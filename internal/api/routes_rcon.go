package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcon/internal/network"
	"github.com/energizer-project/rcon/internal/protocol"
	"github.com/energizer-project/rcon/internal/session"
)

// rconRequest addresses a host directly with its password.
type rconRequest struct {
	Address  string   `json:"address"`
	Port     int      `json:"port"`
	Password string   `json:"password"`
	Command  string   `json:"command"`
	Args     []string `json:"args"`
}

// peerRCONRequest runs a command on a configured peer.
type peerRCONRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

type rconResponse struct {
	Peer      string `json:"peer,omitempty"`
	Endpoint  string `json:"endpoint"`
	Sequence  uint32 `json:"sequence"`
	Status    string `json:"status"`
	Output    string `json:"output"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// handleRCON runs one command against the host named in the request body.
func (s *Server) handleRCON(c *gin.Context) {
	var req rconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if strings.TrimSpace(req.Address) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	if req.Port == 0 {
		req.Port = protocol.DefaultPort
	}
	if req.Port < 1 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "port must be between 1 and 65535"})
		return
	}

	ep := network.Endpoint{Host: req.Address, Port: req.Port}
	s.runCommand(c, "", ep, req.Password, req.Command, req.Args)
}

// handlePeerRCON runs one command against a configured peer. The peer's
// password never leaves the gateway.
func (s *Server) handlePeerRCON(c *gin.Context) {
	id := c.Param("id")
	peer, ok := s.cfg.Peer(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown peer", "peer": id})
		return
	}

	var req peerRCONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.runCommand(c, strings.ToLower(id), peer.Endpoint(), peer.Password, req.Command, req.Args)
}

func (s *Server) runCommand(c *gin.Context, peer string, ep network.Endpoint, password, command string, args []string) {
	text := joinCommand(command, args)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	opts := []session.Option{
		session.WithOptions(s.cfg.Session.Options()),
		session.WithNotifier(s.eventBus),
		session.WithLabel(peer),
	}

	res, err := session.Exec(c.Request.Context(), ep, []byte(password), text, opts...)
	if err != nil {
		kind := session.ErrorKind(err)
		log.Warn().
			Err(err).
			Str("endpoint", ep.String()).
			Str("peer", peer).
			Str("kind", kind).
			Msg("gateway command failed")

		c.JSON(statusForKind(kind), gin.H{
			"error":    err.Error(),
			"kind":     kind,
			"endpoint": ep.String(),
		})
		return
	}

	log.Info().
		Str("endpoint", ep.String()).
		Str("peer", peer).
		Str("status", string(res.Status)).
		Dur("elapsed", res.Elapsed).
		Msg("gateway command answered")

	c.JSON(http.StatusOK, rconResponse{
		Peer:      peer,
		Endpoint:  ep.String(),
		Sequence:  res.Sequence,
		Status:    string(res.Status),
		Output:    res.Output,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

// joinCommand builds the command line sent to the host.
func joinCommand(command string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, p := range append([]string{command}, args...) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// statusForKind maps a session error kind to an HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case session.KindOversized:
		return http.StatusRequestEntityTooLarge
	case session.KindHandshakeRejected:
		return http.StatusForbidden
	case session.KindHandshakeTimeout, session.KindCommandTimeout:
		return http.StatusGatewayTimeout
	case session.KindConnect, session.KindSessionLost:
		return http.StatusBadGateway
	case session.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
