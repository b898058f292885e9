package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/netx"
	"github.com/dmitrijs2005/circle/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_StoresTokenForLaterCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req dto.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.Username)
		assert.Equal(t, []byte{1, 2}, req.Verifier)
		writeJSON(w, http.StatusOK, dto.LoginResponse{AccessToken: "tok", UserID: "u1"})
	})
	mux.HandleFunc("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []dto.Conversation{{ID: "c1", Type: dto.ConversationDirect}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", nil)
	ctx := context.Background()

	resp, err := c.Login(ctx, "alice", []byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "tok", c.AccessToken())

	convs, err := c.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		code int
		msg  string
		want error
	}{
		{"exact message wins", http.StatusRequestEntityTooLarge, common.ErrFileTooLarge.Error(), common.ErrFileTooLarge},
		{"quota", http.StatusRequestEntityTooLarge, common.ErrQuotaExceeded.Error(), common.ErrQuotaExceeded},
		{"unauthorized by status", http.StatusUnauthorized, "nope", common.ErrorUnauthorized},
		{"forbidden", http.StatusForbidden, "", common.ErrAccessDenied},
		{"not participant", http.StatusForbidden, common.ErrNotParticipant.Error(), common.ErrNotParticipant},
		{"not found", http.StatusNotFound, "", common.ErrorNotFound},
		{"conflict", http.StatusConflict, "", common.ErrLoginIsTaken},
		{"bad request", http.StatusBadRequest, "bad json", common.ErrInvalidRequest},
		{"checksum", http.StatusBadRequest, common.ErrChecksumMismatch.Error(), common.ErrChecksumMismatch},
		{"server error", http.StatusInternalServerError, "", common.ErrorInternal},
		{"unavailable", http.StatusServiceUnavailable, "", common.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.code, dto.ErrorResponse{Error: tt.msg})
			}))
			defer srv.Close()

			_, err := NewHTTPClient(srv.URL, nil).GetSalt(context.Background(), "x")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConnectionFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPClient(url, &http.Client{Timeout: time.Second}).Ping(context.Background())
	assert.ErrorIs(t, err, common.ErrUnavailable)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, dto.HealthResponse{Status: "ok"})
	}))
	defer srv.Close()

	assert.NoError(t, NewHTTPClient(srv.URL, nil).Ping(context.Background()))
}

func TestHistory_Query(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "m9", r.URL.Query().Get("before"))
		writeJSON(w, http.StatusOK, []protocol.Message{{ID: "m8", ConversationID: "c1", CreatedAt: created, ReadBy: []string{}}})
	}))
	defer srv.Close()

	msgs, err := NewHTTPClient(srv.URL, nil).History(context.Background(), "c1", 20, "m9")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m8", msgs[0].ID)
}

func TestUpload_SendsHeadersAndResolvesRelativeTarget(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/vault/upload/f1", r.URL.Path)
		assert.Equal(t, "ut", r.Header.Get(common.UploadTokenHeaderName))
		assert.Equal(t, "abc", r.Header.Get(common.ChecksumHeaderName))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, nil).Upload(context.Background(), "/vault/upload/f1", "ut", []byte("blob"), "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), gotBody)
}

func TestUpload_ErrorIsMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: common.ErrChecksumMismatch.Error()})
	}))
	defer srv.Close()

	err := NewHTTPClient(srv.URL, nil).Upload(context.Background(), srv.URL+"/vault/upload/f1", "ut", []byte("blob"), "abc")
	assert.ErrorIs(t, err, common.ErrChecksumMismatch)
}

func TestDownload_DoesNotSendBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("encrypted"))
	}))
	defer srv.Close()

	c := NewHTTPClient("http://unused.invalid", nil)
	c.SetAccessToken("tok")
	b, err := c.Download(context.Background(), srv.URL+"/obj?sig=1")
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted"), b)
}

func TestDownload_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("encrypted"))
	}))
	defer srv.Close()

	c := NewHTTPClient("http://unused.invalid", nil)
	c.SetMaxDownloadSize(4)
	_, err := c.Download(context.Background(), srv.URL+"/obj")
	assert.ErrorIs(t, err, common.ErrFileTooLarge)
	assert.ErrorIs(t, err, netx.ErrBodyTooLarge)
}

func TestListFilesAndDelete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /vault/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.URL.Query().Get("conversationId"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "5", r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, []dto.VaultFile{{ID: "f1", Filename: "a.txt"}})
	})
	mux.HandleFunc("DELETE /vault/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: common.ErrorNotFound.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, nil)
	ctx := context.Background()

	files, err := c.ListFiles(ctx, "c1", 10, 5)
	require.NoError(t, err)
	require.Len(t, files, 1)

	require.NoError(t, c.DeleteFile(ctx, "f1"))
	assert.ErrorIs(t, c.DeleteFile(ctx, "gone"), common.ErrorNotFound)
}
