package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-rvm/rvm/service"
)

// handleCreateSession handles POST /api/v1/session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionCreateRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	session, err := s.sessions.CreateSession(&req.MachineConfig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create session: %v", err))
		return
	}

	response := SessionCreateResponse{
		SessionID: session.ID,
		CreatedAt: session.CreatedAt,
	}

	writeJSON(w, http.StatusCreated, response)
}

// handleListSessions handles GET /api/v1/session
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.ListSessions()

	response := map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	}

	writeJSON(w, http.StatusOK, response)
}

// handleGetSessionStatus handles GET /api/v1/session/{id}
func (s *Server) handleGetSessionStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	regs := session.Service.Registers()
	state := session.Service.State()

	response := SessionStatusResponse{
		SessionID: sessionID,
		State:     string(state),
		PC:        regs.PC,
		Mcycle:    regs.Mcycle,
		Minstret:  regs.Minstret,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleDestroySession handles DELETE /api/v1/session/{id}
func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.DestroySession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Session destroyed",
	})
}

// handleRun handles POST /api/v1/session/{id}/run
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req RunRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	go func() {
		state, runErr := session.Service.Run(req.TargetMcycle, func(regs service.RegisterState) {
			s.broadcastStateChange(sessionID, &regs, service.StateRunning)
		})
		regs := session.Service.Registers()
		if runErr != nil {
			s.broadcaster.BroadcastExecutionEvent(sessionID, "error", map[string]interface{}{"message": runErr.Error()})
			return
		}
		s.broadcastStateChange(sessionID, &regs, state)
	}()

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Run started",
	})
}

// handleStop handles POST /api/v1/session/{id}/stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	session.Service.Stop()

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Stop requested",
	})
}

// handleStep handles POST /api/v1/session/{id}/step
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	if _, stepErr := session.Service.Step(); stepErr != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Step failed: %v", stepErr))
		return
	}

	regs := session.Service.Registers()
	state := session.Service.State()
	s.broadcastStateChange(sessionID, &regs, state)

	writeJSON(w, http.StatusOK, ToRegisterResponse(&regs))
}

// handleGetRegisters handles GET /api/v1/session/{id}/registers
func (s *Server) handleGetRegisters(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	regs := session.Service.Registers()
	writeJSON(w, http.StatusOK, ToRegisterResponse(&regs))
}

// handleMemory handles GET/PUT /api/v1/session/{id}/memory
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		address, err := parseHexOrDec(query.Get("address"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid address parameter")
			return
		}

		length, err := strconv.Atoi(query.Get("length"))
		if err != nil || length <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid length parameter")
			return
		}

		const maxMemoryRead = 1 << 20 // 1MB
		if length > maxMemoryRead {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Length too large (max %d bytes)", maxMemoryRead))
			return
		}

		data, err := session.Service.ReadMemory(address, length)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read memory: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, MemoryResponse{Address: address, Data: data, Length: length})

	case http.MethodPut:
		var req MemoryWriteRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := session.Service.WriteMemory(req.Address, req.Data); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write memory: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Memory written"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleCSR handles GET/PUT /api/v1/session/{id}/csr
func (s *Server) handleCSR(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		addr, err := strconv.ParseUint(r.URL.Query().Get("addr"), 0, 16)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid addr parameter")
			return
		}

		value, err := session.Service.ReadCSR(uint16(addr))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read CSR: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, CSRResponse{Addr: uint16(addr), Value: value})

	case http.MethodPut:
		var req CSRRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := session.Service.WriteCSR(req.Addr, req.Value); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to write CSR: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "CSR written"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGetRootHash handles GET /api/v1/session/{id}/roothash
func (s *Server) handleGetRootHash(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	root := session.Service.GetRootHash()
	writeJSON(w, http.StatusOK, RootHashResponse{RootHash: hex.EncodeToString(root[:])})
}

// handleGetProof handles GET /api/v1/session/{id}/proof
func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	query := r.URL.Query()
	address, err := parseHexOrDec(query.Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid address parameter")
		return
	}

	log2Size, err := strconv.Atoi(query.Get("log2Size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid log2Size parameter")
		return
	}

	proof, err := session.Service.GetProof(address, log2Size)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to get proof: %v", err))
		return
	}

	siblings := make([]string, len(proof.Siblings))
	for i, h := range proof.Siblings {
		siblings[i] = hex.EncodeToString(h[:])
	}

	writeJSON(w, http.StatusOK, ProofResponse{
		Address:       address,
		Log2Size:      log2Size,
		TargetHash:    hex.EncodeToString(proof.TargetHash[:]),
		RootHash:      hex.EncodeToString(proof.RootHash[:]),
		SiblingHashes: siblings,
	})
}

// handleBreakpoint handles POST/DELETE /api/v1/session/{id}/breakpoint
func (s *Server) handleBreakpoint(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req BreakpointRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch r.Method {
	case http.MethodPost:
		session.Service.SetBreakpoint(req.Address)
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Breakpoint added"})

	case http.MethodDelete:
		session.Service.ClearBreakpoint(req.Address)
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Breakpoint removed"})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleListBreakpoints handles GET /api/v1/session/{id}/breakpoints
func (s *Server) handleListBreakpoints(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	writeJSON(w, http.StatusOK, BreakpointsResponse{Breakpoints: session.Service.Breakpoints()})
}

// handleSendStdin handles POST /api/v1/session/{id}/stdin
func (s *Server) handleSendStdin(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req StdinRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	session.Service.FeedConsole([]byte(req.Data))

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Stdin fed"})
}

// handleGetConsoleOutput handles GET /api/v1/session/{id}/console
func (s *Server) handleGetConsoleOutput(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	out := session.Service.DrainConsole()
	writeJSON(w, http.StatusOK, OutputEvent{Stream: "stdout", Content: string(out)})
}

// handleStore handles POST /api/v1/session/{id}/store
func (s *Server) handleStore(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req StoreRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := session.Service.Store(req.Directory); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Store failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Machine stored"})
}

// handleReplaceFlash handles POST /api/v1/session/{id}/flash
func (s *Server) handleReplaceFlash(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req FlashReplaceRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := session.Service.ReplaceFlashDrive(req.Start, req.Length, req.Data); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Flash replace failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Flash drive replaced"})
}

// parseHexOrDec parses a string as either hexadecimal (0x prefix) or decimal
func parseHexOrDec(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}

	if len(s) > 2 && s[:2] == "0x" {
		return strconv.ParseUint(s[2:], 16, 64)
	}

	return strconv.ParseUint(s, 10, 64)
}

// broadcastStateChange broadcasts machine state changes to WebSocket clients
func (s *Server) broadcastStateChange(sessionID string, regs *service.RegisterState, state service.ExecutionState) {
	if s.broadcaster == nil {
		return
	}

	data := map[string]interface{}{
		"status":   string(state),
		"pc":       regs.PC,
		"mcycle":   regs.Mcycle,
		"minstret": regs.Minstret,
	}

	s.broadcaster.BroadcastState(sessionID, data)
}
