package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/circle/internal/common"
	"github.com/dmitrijs2005/circle/internal/dto"
)

func (s *Server) handleUploadToken(w http.ResponseWriter, r *http.Request) {
	var req dto.UploadTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	g, err := s.vault.RequestUploadToken(r.Context(), userIDFromContext(r.Context()), req)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.UploadTokenResponse{
		Token:        g.Token,
		UploadTarget: g.UploadTarget,
		FileID:       g.FileID,
		ExpiresAt:    g.ExpiresAt,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(common.UploadTokenHeaderName)
	if token == "" {
		s.writeError(r.Context(), w, common.ErrInvalidToken)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadSize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			s.writeError(r.Context(), w, common.ErrFileTooLarge)
			return
		}
		s.writeError(r.Context(), w, fmt.Errorf("%w: %v", common.ErrInvalidRequest, err))
		return
	}

	f, err := s.vault.CompleteUpload(r.Context(), r.PathValue("id"), token, r.Header.Get(common.ChecksumHeaderName), body)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toVaultFile(r.Context(), f))
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	g, err := s.vault.DownloadURL(r.Context(), userIDFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.DownloadURLResponse{URL: g.URL, Checksum: g.Checksum, ExpiresAt: g.ExpiresAt})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	files, err := s.vault.ListFiles(r.Context(), userIDFromContext(r.Context()), q.Get("conversationId"), limit, offset)
	if err != nil {
		s.writeError(r.Context(), w, err)
		return
	}

	out := make([]dto.VaultFile, 0, len(files))
	for _, f := range files {
		out = append(out, s.toVaultFile(r.Context(), f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.DeleteFile(r.Context(), userIDFromContext(r.Context()), r.PathValue("id")); err != nil {
		s.writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
