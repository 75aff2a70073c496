package api

import (
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/R3E-Network/beacon-orchestrator/internal/beacon"
)

func (s *Server) handleListWallets(c *gin.Context) {
	wallets, err := s.wallets.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallets": wallets, "count": len(wallets)})
}

type addWalletRequest struct {
	Address   string `json:"address" binding:"required"`
	SignerRef string `json:"signer_ref"`
}

func (s *Server) handleAddWallet(c *gin.Context) {
	var req addWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Address, "address")
	if !ok {
		return
	}
	signerRef := req.SignerRef
	if signerRef == "" {
		signerRef = addr.Hex()
	}
	if err := s.wallets.Add(c.Request.Context(), addr, signerRef); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex()})
}

type fundGuestRequest struct {
	Address    string `json:"address" binding:"required"`
	USDCAmount string `json:"usdc_amount"`
	ETHAmount  string `json:"eth_amount"`
}

func (s *Server) handleFundGuest(c *gin.Context) {
	var req fundGuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Address, "address")
	if !ok {
		return
	}
	usdcAmount := big.NewInt(0)
	if req.USDCAmount != "" {
		if usdcAmount, ok = parseBigInt(c, req.USDCAmount, "usdc_amount"); !ok {
			return
		}
	}
	ethAmount := big.NewInt(0)
	if req.ETHAmount != "" {
		if ethAmount, ok = parseBigInt(c, req.ETHAmount, "eth_amount"); !ok {
			return
		}
	}
	result, err := s.funding.FundGuest(c.Request.Context(), addr, usdcAmount, ethAmount)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDisableWallet(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"), "address")
	if !ok {
		return
	}
	if err := s.wallets.Disable(c.Request.Context(), addr); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "status": "disabled"})
}

func (s *Server) handleListTypes(c *gin.Context) {
	types, err := s.types.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": types, "count": len(types)})
}

type registerTypeRequest struct {
	Slug        string `json:"slug" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Factory     string `json:"factory_address" binding:"required"`
	FactoryKind string `json:"factory_type" binding:"required,oneof=standard dichotomous"`
	Registry    string `json:"registry_address"`
	Enabled     bool   `json:"enabled"`
}

func (s *Server) handleRegisterType(c *gin.Context) {
	var req registerTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	factory, ok := parseAddress(c, req.Factory, "factory")
	if !ok {
		return
	}
	cfg := &beacon.TypeConfig{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		Factory:     factory,
		FactoryKind: beacon.FactoryKind(req.FactoryKind),
		Enabled:     req.Enabled,
	}
	if req.Registry != "" {
		registry, ok := parseAddress(c, req.Registry, "registry")
		if !ok {
			return
		}
		cfg.Registry = registry
	}
	if err := s.types.Register(c.Request.Context(), cfg); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}
