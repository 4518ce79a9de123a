package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMux(t *testing.T, f *fixture) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(f.service, log.New(io.Discard)).Register(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTextTurnEndpoint(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	rec := postJSON(t, mux, http.MethodPost, "/v1/turns/text", map[string]string{
		"userId": "user1", "childId": "child1", "toyId": "toy1", "text": "hi luna!",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hi luna!", resp.Transcript)
	assert.Equal(t, "What a great question!", resp.Reply)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Empty(t, resp.Audio)
}

func TestTextTurnEndpoint_MissingFields(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	rec := postJSON(t, mux, http.MethodPost, "/v1/turns/text", map[string]string{
		"userId": "user1", "text": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTextTurnEndpoint_InvalidJSON(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	req := httptest.NewRequest(http.MethodPost, "/v1/turns/text", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioTurnEndpoint(t *testing.T) {
	f := newServiceFixture(t, &fakeTranscriber{text: "what do cows eat?"}, nil)
	mux := newTestMux(t, f)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("userId", "user1"))
	require.NoError(t, writer.WriteField("childId", "child1"))
	require.NoError(t, writer.WriteField("toyId", "toy1"))
	part, err := writer.CreateFormFile("audio", "turn.wav")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-wav-bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/turns/audio", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "what do cows eat?", resp.Transcript)
	assert.Equal(t, "What a great question!", resp.Reply)
}

func TestAudioTurnEndpoint_MissingFile(t *testing.T) {
	f := newServiceFixture(t, &fakeTranscriber{text: "hi"}, nil)
	mux := newTestMux(t, f)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("userId", "user1"))
	require.NoError(t, writer.WriteField("childId", "child1"))
	require.NoError(t, writer.WriteField("toyId", "toy1"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/turns/audio", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndConversationEndpoint(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	turn := postJSON(t, mux, http.MethodPost, "/v1/turns/text", map[string]string{
		"userId": "user1", "childId": "child1", "toyId": "toy1", "text": "hi",
	})
	require.Equal(t, http.StatusOK, turn.Code)
	var resp turnResponse
	require.NoError(t, json.Unmarshal(turn.Body.Bytes(), &resp))

	rec := postJSON(t, mux, http.MethodPost, "/v1/conversations/end", map[string]string{
		"userId": "user1", "childId": "child1", "conversationId": resp.ConversationID,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	conv, err := f.store.GetConversation(context.Background(), testScope, resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, EndReasonExplicit, conv.EndReason)
}

func TestEndConversationEndpoint_NotFound(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	rec := postJSON(t, mux, http.MethodPost, "/v1/conversations/end", map[string]string{
		"userId": "user1", "childId": "child1", "conversationId": "nope",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFlagConversationEndpoint(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	turn := postJSON(t, mux, http.MethodPost, "/v1/turns/text", map[string]string{
		"userId": "user1", "childId": "child1", "toyId": "toy1", "text": "hi",
	})
	var resp turnResponse
	require.NoError(t, json.Unmarshal(turn.Body.Bytes(), &resp))

	rec := postJSON(t, mux, http.MethodPut, "/v1/conversations/flag", map[string]any{
		"userId": "user1", "childId": "child1", "conversationId": resp.ConversationID,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	conv, err := f.store.GetConversation(context.Background(), testScope, resp.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.Flagged, "flagged defaults to true when omitted")
}

func TestFlagConversationEndpoint_ExplicitFalse(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	mux := newTestMux(t, f)

	turn := postJSON(t, mux, http.MethodPost, "/v1/turns/text", map[string]string{
		"userId": "user1", "childId": "child1", "toyId": "toy1", "text": "hi",
	})
	var resp turnResponse
	require.NoError(t, json.Unmarshal(turn.Body.Bytes(), &resp))

	rec := postJSON(t, mux, http.MethodPut, "/v1/conversations/flag", map[string]any{
		"userId": "user1", "childId": "child1", "conversationId": resp.ConversationID, "flagged": false,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	conv, err := f.store.GetConversation(context.Background(), testScope, resp.ConversationID)
	require.NoError(t, err)
	assert.False(t, conv.Flagged)
}
