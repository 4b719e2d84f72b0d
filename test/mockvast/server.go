// Package mockvast is an in-process mock of the Vast.ai marketplace API
// for integration tests. It speaks the same wire format the real API does:
// api_key query-parameter auth, the q search parameter on /bundles/, and
// the {success, msg} envelope on mutation endpoints. Tests can inject
// one-shot failures and inspect state directly.
package mockvast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Server is the mock marketplace server.
type Server struct {
	state  *State
	apiKey string
	router *gin.Engine
}

// NewServer creates a mock server. An empty apiKey accepts any non-empty
// key, which is the usual mode for tests.
func NewServer(apiKey string) *Server {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		state:  NewState(),
		apiKey: apiKey,
		router: router,
	}
	s.setupRoutes()
	return s
}

// Router returns the gin router, ready to hand to httptest.NewServer.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// State exposes the underlying state for test setup and assertions.
func (s *Server) State() *State {
	return s.state
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	authed := s.router.Group("/", s.requireAPIKey)

	authed.GET("/bundles/", s.handleSearchOffers)
	authed.PUT("/asks/:id/", s.handleCreateInstance)

	authed.GET("/instances/", s.handleListInstances)
	authed.GET("/instances/:id/", s.handleShowInstance)
	authed.PUT("/instances/:id/", s.handleUpdateInstance)
	authed.DELETE("/instances/:id/", s.handleDestroyInstance)

	authed.PUT("/instances/reboot/:id/", s.handleRebootInstance)
	authed.PUT("/instances/bid_price/:id/", s.handleChangeBid)
	authed.PUT("/instances/command/:id/", s.handleCommand)
	authed.PUT("/commands/rsync/", s.handleRsync)

	// Test control endpoints, outside the authed group.
	s.router.POST("/_test/reset", s.handleTestReset)
	s.router.POST("/_test/fail-next", s.handleTestFailNext)
}

// requireAPIKey rejects requests without a valid api_key query parameter,
// the way the real marketplace does.
func (s *Server) requireAPIKey(c *gin.Context) {
	key := c.Query("api_key")
	if key == "" || (s.apiKey != "" && key != s.apiKey) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "invalid or missing api_key",
		})
		return
	}
	c.Next()
}

// failInjected consumes a pending injected failure for op and writes it.
func (s *Server) failInjected(c *gin.Context, op string) bool {
	f, ok := s.state.takeFailure(op)
	if !ok {
		return false
	}
	body := f.body
	if body == "" {
		body = fmt.Sprintf("injected %s failure", op)
	}
	c.JSON(f.status, gin.H{"success": false, "error": body})
	c.Abort()
	return true
}

func (s *Server) handleSearchOffers(c *gin.Context) {
	if s.failInjected(c, "search") {
		return
	}

	var q map[string]any
	if raw := c.Query("q"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid q parameter"})
			return
		}
	}

	offers := s.state.Offers()
	matched := make([]map[string]any, 0, len(offers))
	for _, offer := range offers {
		fields := toFields(offer)
		if matchQuery(fields, q) {
			matched = append(matched, fields)
		}
	}
	sortOffers(matched, q)

	c.JSON(http.StatusOK, gin.H{"offers": matched})
}

type createRequest struct {
	ClientID string   `json:"client_id"`
	Image    string   `json:"image"`
	Label    string   `json:"label"`
	RunType  string   `json:"runtype"`
	Disk     float64  `json:"disk"`
	Price    *float64 `json:"price"`
}

func (s *Server) handleCreateInstance(c *gin.Context) {
	if s.failInjected(c, "create") {
		return
	}

	offerID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid offer id"})
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Image == "" {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "no image specified"})
		return
	}

	if _, ok := s.state.Offer(offerID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no such ask"})
		return
	}

	inst, err := s.state.CreateInstance(offerID, req.Image, req.Label, req.Price != nil)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "new_contract": inst.ID})
}

func (s *Server) handleListInstances(c *gin.Context) {
	if s.failInjected(c, "list") {
		return
	}
	c.JSON(http.StatusOK, gin.H{"instances": s.state.Instances()})
}

func (s *Server) handleShowInstance(c *gin.Context) {
	if s.failInjected(c, "show") {
		return
	}
	inst, ok := s.lookupInstance(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, inst)
}

type updateRequest struct {
	State string `json:"state"`
	Label string `json:"label"`
}

func (s *Server) handleUpdateInstance(c *gin.Context) {
	if s.failInjected(c, "state") {
		return
	}
	inst, ok := s.lookupInstance(c)
	if !ok {
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	switch {
	case req.State != "":
		if req.State != "running" && req.State != "stopped" {
			c.JSON(http.StatusOK, gin.H{"success": false, "msg": "unknown state " + req.State})
			return
		}
		s.state.SetInstanceState(inst.ID, req.State)
	case req.Label != "":
		s.state.SetInstanceLabel(inst.ID, req.Label)
	default:
		c.JSON(http.StatusOK, gin.H{"success": false, "msg": "nothing to update"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleDestroyInstance(c *gin.Context) {
	if s.failInjected(c, "destroy") {
		return
	}
	inst, ok := s.lookupInstance(c)
	if !ok {
		return
	}
	s.state.DestroyInstance(inst.ID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleRebootInstance(c *gin.Context) {
	if s.failInjected(c, "reboot") {
		return
	}
	inst, ok := s.lookupInstance(c)
	if !ok {
		return
	}
	s.state.SetInstanceState(inst.ID, "running")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type bidRequest struct {
	Price float64 `json:"price"`
}

func (s *Server) handleChangeBid(c *gin.Context) {
	if s.failInjected(c, "bid") {
		return
	}
	inst, ok := s.lookupInstance(c)
	if !ok {
		return
	}

	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.state.SetInstanceBid(inst.ID, req.Price)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCommand(c *gin.Context) {
	if s.failInjected(c, "command") {
		return
	}
	if _, ok := s.lookupInstance(c); !ok {
		return
	}

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if req.Command == "" {
		c.JSON(http.StatusOK, gin.H{"success": false, "msg": "no command given"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "msg": "command queued"})
}

type rsyncRequest struct {
	SrcID   int    `json:"src_id"`
	DstID   int    `json:"dst_id"`
	SrcPath string `json:"src_path"`
	DstPath string `json:"dst_path"`
}

func (s *Server) handleRsync(c *gin.Context) {
	if s.failInjected(c, "rsync") {
		return
	}

	var req rsyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	for _, id := range []int{req.SrcID, req.DstID} {
		if _, ok := s.state.Instance(id); !ok {
			c.JSON(http.StatusOK, gin.H{"success": false, "msg": fmt.Sprintf("instance %d not found", id)})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "msg": "rsync started"})
}

func (s *Server) handleTestReset(c *gin.Context) {
	s.state.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

type failNextRequest struct {
	Op     string `json:"op" binding:"required"`
	Status int    `json:"status" binding:"required"`
	Body   string `json:"body"`
}

func (s *Server) handleTestFailNext(c *gin.Context) {
	var req failNextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.state.FailNext(req.Op, req.Status, req.Body)
	c.JSON(http.StatusOK, gin.H{"status": "armed"})
}

// lookupInstance resolves the :id path parameter, writing the marketplace's
// 404 shape when the instance does not exist. The returned Instance is a
// snapshot; handlers mutate through State methods, not through it.
func (s *Server) lookupInstance(c *gin.Context) (Instance, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid instance id"})
		return Instance{}, false
	}
	inst, ok := s.state.Instance(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "instance not found"})
		return Instance{}, false
	}
	return inst, true
}

// toFields flattens an offer to its JSON field map for query matching.
func toFields(offer Offer) map[string]any {
	raw, _ := json.Marshal(offer)
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	return fields
}

// matchQuery evaluates the q search parameter against one offer's fields.
// Non-constraint keys (order, type, limit and friends) are skipped.
func matchQuery(fields map[string]any, q map[string]any) bool {
	for field, rawOps := range q {
		switch field {
		case "order", "type", "limit", "allocated_storage", "disable_bundling":
			continue
		}
		ops, ok := rawOps.(map[string]any)
		if !ok {
			continue
		}
		value, present := fields[field]
		for op, want := range ops {
			if !present || !matchOp(value, op, want) {
				return false
			}
		}
	}
	return true
}

func matchOp(value any, op string, want any) bool {
	switch op {
	case "eq":
		return looseEqual(value, want)
	case "neq":
		return !looseEqual(value, want)
	case "in":
		for _, w := range asList(want) {
			if looseEqual(value, w) {
				return true
			}
		}
		return false
	case "notin":
		for _, w := range asList(want) {
			if looseEqual(value, w) {
				return false
			}
		}
		return true
	case "gt", "gte", "lt", "lte":
		a, aok := asNumber(value)
		b, bok := asNumber(want)
		if !aok || !bok {
			return false
		}
		switch op {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

func looseEqual(a, b any) bool {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// sortOffers applies the q order clause, a list of [field, "asc"|"desc"]
// pairs, to the matched offers.
func sortOffers(offers []map[string]any, q map[string]any) {
	rawOrder, ok := q["order"].([]any)
	if !ok || len(rawOrder) == 0 {
		return
	}

	type key struct {
		field string
		desc  bool
	}
	keys := make([]key, 0, len(rawOrder))
	for _, entry := range rawOrder {
		pair, ok := entry.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		field, _ := pair[0].(string)
		dir, _ := pair[1].(string)
		keys = append(keys, key{field: field, desc: dir == "desc"})
	}

	sort.SliceStable(offers, func(i, j int) bool {
		for _, k := range keys {
			a, aok := asNumber(offers[i][k.field])
			b, bok := asNumber(offers[j][k.field])
			if !aok || !bok || a == b {
				continue
			}
			if k.desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}
