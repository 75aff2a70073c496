package api

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type deployPerpRequest struct {
	Beacon string `json:"beacon" binding:"required"`
}

func (s *Server) handleDeployPerp(c *gin.Context) {
	var req deployPerpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Beacon, "beacon")
	if !ok {
		return
	}
	result, err := s.perps.Deploy(c.Request.Context(), addr)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type depositLiquidityRequest struct {
	MarginUSDC string `json:"margin_usdc" binding:"required"`
}

func (s *Server) handleDepositLiquidity(c *gin.Context) {
	perpID, ok := parsePerpID(c, c.Param("id"))
	if !ok {
		return
	}
	var req depositLiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	margin, ok := parseBigInt(c, req.MarginUSDC, "margin_usdc")
	if !ok {
		return
	}
	result, err := s.perps.DepositLiquidity(c.Request.Context(), perpID, margin)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// parsePerpID validates a 32-byte hex pool id, responding 400 on failure.
func parsePerpID(c *gin.Context, raw string) (common.Hash, bool) {
	trimmed := strings.TrimPrefix(raw, "0x")
	if len(trimmed) != 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid perp id: want 32-byte hex"})
		return common.Hash{}, false
	}
	for _, r := range trimmed {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid perp id: want 32-byte hex"})
			return common.Hash{}, false
		}
	}
	return common.HexToHash(raw), true
}
