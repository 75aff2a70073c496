package api

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/R3E-Network/beacon-orchestrator/internal/beacon"
)

type createBeaconRequest struct {
	Owner string `json:"owner" binding:"required"`
}

func (s *Server) handleCreate(c *gin.Context) {
	var req createBeaconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, ok := parseAddress(c, req.Owner, "owner")
	if !ok {
		return
	}
	result, err := s.beacons.Create(c.Request.Context(), owner)
	if err != nil {
		// A beacon that was created but failed registration is still
		// reported alongside the error.
		if result != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  err.Error(),
				"beacon": result.Beacon.Hex(),
				"tx":     result.TxHash.Hex(),
			})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchCreateRequest struct {
	Count int    `json:"count" binding:"required,min=1,max=100"`
	Owner string `json:"owner" binding:"required"`
}

func (s *Server) handleBatchCreate(c *gin.Context) {
	var req batchCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, ok := parseAddress(c, req.Owner, "owner")
	if !ok {
		return
	}
	summary, err := s.beacons.BatchCreate(c.Request.Context(), req.Count, owner)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type registerBeaconRequest struct {
	Beacon string `json:"beacon" binding:"required"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req registerBeaconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Beacon, "beacon")
	if !ok {
		return
	}
	txHash, already, err := s.beacons.Register(c.Request.Context(), addr)
	if err != nil {
		s.respondError(c, err)
		return
	}
	resp := gin.H{"already_registered": already}
	if !already {
		resp["tx_hash"] = txHash.Hex()
	}
	c.JSON(http.StatusOK, resp)
}

type updateBeaconRequest struct {
	Beacon        string `json:"beacon" binding:"required"`
	Proof         string `json:"proof" binding:"required"`
	PublicSignals string `json:"public_signals" binding:"required"`
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req updateBeaconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Beacon, "beacon")
	if !ok {
		return
	}
	result, err := s.beacons.Update(c.Request.Context(), addr,
		common.FromHex(req.Proof), common.FromHex(req.PublicSignals))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type batchUpdateItem struct {
	Beacon        string `json:"beacon" binding:"required"`
	Proof         string `json:"proof" binding:"required"`
	PublicSignals string `json:"public_signals" binding:"required"`
}

type batchUpdateRequest struct {
	Items []batchUpdateItem `json:"items" binding:"required,min=1,max=100,dive"`
}

func (s *Server) handleBatchUpdate(c *gin.Context) {
	var req batchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items := make([]beacon.UpdateItem, 0, len(req.Items))
	for _, item := range req.Items {
		addr, ok := parseAddress(c, item.Beacon, "beacon")
		if !ok {
			return
		}
		items = append(items, beacon.UpdateItem{
			Beacon:        addr,
			Proof:         common.FromHex(item.Proof),
			PublicSignals: common.FromHex(item.PublicSignals),
		})
	}
	outcomes, err := s.beacons.BatchUpdate(c.Request.Context(), items)
	if err != nil {
		s.respondError(c, err)
		return
	}
	succeeded := 0
	for _, o := range outcomes {
		if o.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     len(outcomes),
		"succeeded": succeeded,
		"failed":    len(outcomes) - succeeded,
		"results":   outcomes,
	})
}

type ecdsaUpdateRequest struct {
	Beacon      string `json:"beacon" binding:"required"`
	Measurement string `json:"measurement" binding:"required"`
}

func (s *Server) handleUpdateECDSA(c *gin.Context) {
	var req ecdsaUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, ok := parseAddress(c, req.Beacon, "beacon")
	if !ok {
		return
	}
	measurement, ok := parseBigInt(c, req.Measurement, "measurement")
	if !ok {
		return
	}
	result, err := s.beacons.UpdateECDSA(c.Request.Context(), s.hashSigner, addr, measurement)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type createVerifiableRequest struct {
	Verifier           string `json:"verifier" binding:"required"`
	InitialData        string `json:"initial_data" binding:"required"`
	InitialCardinality uint32 `json:"initial_cardinality"`
}

func (s *Server) handleCreateVerifiable(c *gin.Context) {
	var req createVerifiableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	verifier, ok := parseAddress(c, req.Verifier, "verifier")
	if !ok {
		return
	}
	initialData, ok := parseBigInt(c, req.InitialData, "initial_data")
	if !ok {
		return
	}
	cardinality := req.InitialCardinality
	if cardinality == 0 {
		cardinality = 1
	}
	result, err := s.beacons.CreateVerifiable(c.Request.Context(), verifier, initialData, cardinality)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetData(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"), "address")
	if !ok {
		return
	}
	data, timestamp, err := s.beacons.GetData(c.Request.Context(), addr)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"beacon":    addr.Hex(),
		"data":      data.String(),
		"timestamp": timestamp.String(),
	})
}

func (s *Server) handleGetTwap(c *gin.Context) {
	addr, ok := parseAddress(c, c.Param("address"), "address")
	if !ok {
		return
	}
	secondsAgo := uint32(3600)
	if raw := c.Query("seconds_ago"); raw != "" {
		parsed, ok := parseBigInt(c, raw, "seconds_ago")
		if !ok {
			return
		}
		if !parsed.IsUint64() || parsed.Uint64() > 1<<32-1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seconds_ago out of range"})
			return
		}
		secondsAgo = uint32(parsed.Uint64())
	}
	twap, err := s.beacons.GetTwap(c.Request.Context(), addr, secondsAgo)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"beacon":      addr.Hex(),
		"twap":        twap.String(),
		"seconds_ago": secondsAgo,
	})
}

// parseAddress validates and parses a hex address, responding 400 itself on
// failure.
func parseAddress(c *gin.Context, raw, field string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field + " address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseBigInt parses a decimal integer string, responding 400 on failure.
func parseBigInt(c *gin.Context, raw, field string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + field + " value"})
		return nil, false
	}
	return v, true
}
