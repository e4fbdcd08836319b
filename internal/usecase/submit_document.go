package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/language"
	"github.com/Harsh-BH/warden/internal/repository"
)

// SubmitDocumentUsecase submits the text of a stored document, inferring the
// language from the document's file extension.
type SubmitDocumentUsecase struct {
	documents repository.DocumentResolver
	languages *language.Registry
	submit    *SubmitJobUsecase
	logger    *zap.Logger
}

// NewSubmitDocumentUsecase creates a new SubmitDocumentUsecase.
func NewSubmitDocumentUsecase(documents repository.DocumentResolver, languages *language.Registry, submit *SubmitJobUsecase, logger *zap.Logger) *SubmitDocumentUsecase {
	return &SubmitDocumentUsecase{
		documents: documents,
		languages: languages,
		submit:    submit,
		logger:    logger,
	}
}

func (uc *SubmitDocumentUsecase) Execute(ctx context.Context, req *domain.DocumentSubmitRequest) (*domain.SubmitResponse, error) {
	doc, err := uc.documents.Resolve(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	lang, ok := uc.languages.ForFileName(doc.Name)
	if !ok {
		return nil, fmt.Errorf("%w: no language for file %q", domain.ErrInvalidLanguage, doc.Name)
	}

	uc.logger.Debug("Resolved document for submission",
		zap.String("document_id", doc.ID),
		zap.String("name", doc.Name),
		zap.String("language", string(lang)),
	)

	return uc.submit.Execute(ctx, &domain.SubmitRequest{
		Language:   lang,
		SourceCode: doc.Content,
		Stdin:      req.Stdin,
	})
}
