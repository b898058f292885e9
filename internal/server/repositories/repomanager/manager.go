package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/circle/internal/dbx"
	"github.com/dmitrijs2005/circle/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/circle/internal/server/repositories/files"
	"github.com/dmitrijs2005/circle/internal/server/repositories/messages"
	"github.com/dmitrijs2005/circle/internal/server/repositories/uploadtokens"
	"github.com/dmitrijs2005/circle/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Conversations(db dbx.DBTX) conversations.Repository
	Messages(db dbx.DBTX) messages.Repository
	Files(db dbx.DBTX) files.Repository
	UploadTokens(db dbx.DBTX) uploadtokens.Repository
}
