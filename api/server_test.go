package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func testServer() *Server {
	return NewServer(0)
}

func createTestSession(t *testing.T, server *Server) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", bytes.NewReader([]byte("{}")))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp SessionCreateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp.SessionID
}

func TestHealthCheck(t *testing.T) {
	server := testServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, "ok", resp["status"])
}

func TestCreateAndDestroySession(t *testing.T) {
	server := testServer()
	sessionID := createTestSession(t, server)
	require.NotEmpty(t, sessionID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID, nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status SessionStatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	require.Equal(t, uint64(0x8000_0000), status.PC)

	delReq := httptest.NewRequest(http.MethodDelete, "/api/v1/session/"+sessionID, nil)
	delW := httptest.NewRecorder()
	server.Handler().ServeHTTP(delW, delReq)
	require.Equal(t, http.StatusOK, delW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID, nil)
	getW := httptest.NewRecorder()
	server.Handler().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusNotFound, getW.Code)
}

func TestListSessions(t *testing.T) {
	server := testServer()
	for i := 0; i < 3; i++ {
		createTestSession(t, server)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	sessions, ok := resp["sessions"].([]interface{})
	require.True(t, ok)
	require.Len(t, sessions, 3)
}

func TestStepAndRegisters(t *testing.T) {
	server := testServer()
	sessionID := createTestSession(t, server)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/"+sessionID+"/step", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var regs RegistersResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&regs))
	require.Equal(t, uint64(1), regs.Mcycle)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID+"/registers", nil)
	getW := httptest.NewRecorder()
	server.Handler().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)
}

func TestMemoryReadWrite(t *testing.T) {
	server := testServer()
	sessionID := createTestSession(t, server)

	writeBody, _ := json.Marshal(MemoryWriteRequest{Address: 0x8000_0000, Data: []byte{1, 2, 3, 4}})
	putReq := httptest.NewRequest(http.MethodPut, "/api/v1/session/"+sessionID+"/memory", bytes.NewReader(writeBody))
	putW := httptest.NewRecorder()
	server.Handler().ServeHTTP(putW, putReq)
	require.Equal(t, http.StatusOK, putW.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID+"/memory?address=0x80000000&length=4", nil)
	getW := httptest.NewRecorder()
	server.Handler().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var mem MemoryResponse
	require.NoError(t, json.NewDecoder(getW.Body).Decode(&mem))
	require.Equal(t, []byte{1, 2, 3, 4}, mem.Data)
}

func TestRootHashAndProof(t *testing.T) {
	server := testServer()
	sessionID := createTestSession(t, server)

	hashReq := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID+"/roothash", nil)
	hashW := httptest.NewRecorder()
	server.Handler().ServeHTTP(hashW, hashReq)
	require.Equal(t, http.StatusOK, hashW.Code)

	var hashResp RootHashResponse
	require.NoError(t, json.NewDecoder(hashW.Body).Decode(&hashResp))
	require.Len(t, hashResp.RootHash, 64) // hex-encoded 32 bytes

	proofReq := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID+"/proof?address=0x80000000&log2Size=12", nil)
	proofW := httptest.NewRecorder()
	server.Handler().ServeHTTP(proofW, proofReq)
	require.Equal(t, http.StatusOK, proofW.Code)

	var proofResp ProofResponse
	require.NoError(t, json.NewDecoder(proofW.Body).Decode(&proofResp))
	require.Equal(t, hashResp.RootHash, proofResp.RootHash)
}

func TestBreakpointLifecycle(t *testing.T) {
	server := testServer()
	sessionID := createTestSession(t, server)

	addBody, _ := json.Marshal(BreakpointRequest{Address: 0x8000_0004})
	addReq := httptest.NewRequest(http.MethodPost, "/api/v1/session/"+sessionID+"/breakpoint", bytes.NewReader(addBody))
	addW := httptest.NewRecorder()
	server.Handler().ServeHTTP(addW, addReq)
	require.Equal(t, http.StatusOK, addW.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/session/"+sessionID+"/breakpoints", nil)
	listW := httptest.NewRecorder()
	server.Handler().ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)

	var bps BreakpointsResponse
	require.NoError(t, json.NewDecoder(listW.Body).Decode(&bps))
	require.Len(t, bps.Breakpoints, 1)
}

func TestSessionNotFound(t *testing.T) {
	server := testServer()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session/does-not-exist", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}
