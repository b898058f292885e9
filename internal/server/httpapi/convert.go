package httpapi

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/circle/internal/dto"
	"github.com/dmitrijs2005/circle/internal/server/models"
)

func toConversation(c *models.Conversation) dto.Conversation {
	out := dto.Conversation{
		ID:           c.ID,
		Name:         c.Name,
		Type:         c.Type,
		CreatedBy:    c.CreatedBy,
		CreatedAt:    c.CreatedAt,
		Participants: make([]dto.Participant, 0, len(c.Participants)),
	}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, dto.Participant{
			UserID:   p.UserID,
			Username: p.UserName,
			Role:     p.Role,
		})
	}
	return out
}

func (s *Server) toVaultFile(ctx context.Context, f *models.VaultFile) dto.VaultFile {
	out := dto.VaultFile{
		ID:             f.ID,
		OwnerID:        f.OwnerID,
		ConversationID: f.ConversationID,
		Filename:       f.Filename,
		Size:           f.Size,
		ContentType:    f.ContentType,
		AccessLevel:    f.AccessLevel,
		Checksum:       f.Checksum,
		ExpiresAt:      f.ExpiresAt,
		DownloadCount:  f.DownloadCount,
		CreatedAt:      f.CreatedAt,
	}
	if len(f.EncryptionMetadata) > 0 {
		if err := json.Unmarshal(f.EncryptionMetadata, &out.EncryptionMetadata); err != nil {
			s.logger.Warn(ctx, "bad encryption metadata", "file_id", f.ID, "error", err)
		}
	}
	return out
}
