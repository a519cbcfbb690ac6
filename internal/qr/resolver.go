// internal/qr/resolver.go
package qr

import (
	"context"
	"strings"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/common/logger"
	"mailmerge-workers/internal/payment"
	"mailmerge-workers/internal/sheets"
)

// Artifact is a rendered QR image ready to be embedded under its image name.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	Payload     string
}

// Resolver builds payment payloads for QR specs and renders them.
type Resolver struct {
	renderer Renderer
	country  string
	logger   logger.Logger
}

func NewResolver(renderer Renderer, country string, log logger.Logger) *Resolver {
	return &Resolver{renderer: renderer, country: country, logger: log}
}

// VariableSymbol returns the literal symbol or the value of the symbol column in row.
func VariableSymbol(spec Spec, recipients *sheets.Table, row sheets.Row) (string, error) {
	if spec.VariableSymbolColumn == "" {
		return spec.VariableSymbol, nil
	}
	col, err := recipients.Column(spec.VariableSymbolColumn)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(recipients.Value(row, col)), nil
}

// Resolve renders spec for row. A missing symbol column is returned as an error. Invalid
// payment fields and renderer failures are logged and produce a nil artifact.
func (r *Resolver) Resolve(ctx context.Context, spec Spec, recipients *sheets.Table, row sheets.Row) (*Artifact, error) {
	vs, err := VariableSymbol(spec, recipients, row)
	if err != nil {
		return nil, err
	}

	log := r.logger.With(map[string]interface{}{
		"topic": spec.Topic,
		"image": spec.ImageName,
		"row":   row.Number,
	})

	payload, err := payment.Payload{
		Country:        r.country,
		AccountNumber:  spec.AccountNumber,
		BankCode:       spec.BankCode,
		Amount:         spec.Amount,
		Currency:       spec.Currency,
		VariableSymbol: vs,
		Message:        spec.Message,
	}.Build()
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeInvalidInput) {
			log.Warn("skipping QR with invalid payment fields", map[string]interface{}{"error": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	img, err := r.renderer.Render(ctx, payload, spec.Size)
	if err != nil {
		log.Warn("QR render failed", map[string]interface{}{"error": err.Error()})
		return nil, nil
	}

	log.Debug("QR rendered", map[string]interface{}{"bytes": len(img.Data)})
	return &Artifact{
		Name:        spec.ImageName,
		ContentType: img.ContentType,
		Data:        img.Data,
		Payload:     payload,
	}, nil
}
