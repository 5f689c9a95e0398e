// Package uploads sends the APSA and Aconex spreadsheets to the admin upload endpoints.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/api"
)

const (
	apsaPath   = "/admin/upload/apsa"
	aconexPath = "/admin/upload/aconex"
	fileField  = "file"
)

var ErrNoFile = errors.New("no file selected")

type Service interface {
	// UploadAPSA replaces the protocol log. With hard set the server purges every previous
	// APSA load first.
	UploadAPSA(ctx context.Context, filename string, r io.Reader, hard bool) (*model.UploadResult, error)
	UploadAconex(ctx context.Context, filename string, r io.Reader) (*model.UploadResult, error)
}

type service struct {
	client api.Client
	log    zerolog.Logger
}

func NewService(client api.Client, log zerolog.Logger) Service {
	return &service{client: client, log: log}
}

func (s *service) UploadAPSA(ctx context.Context, filename string, r io.Reader, hard bool) (*model.UploadResult, error) {
	return s.upload(ctx, apsaPath, filename, r, url.Values{"hard": {strconv.FormatBool(hard)}})
}

func (s *service) UploadAconex(ctx context.Context, filename string, r io.Reader) (*model.UploadResult, error) {
	return s.upload(ctx, aconexPath, filename, r, nil)
}

func (s *service) upload(ctx context.Context, path, filename string, r io.Reader, query url.Values) (*model.UploadResult, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if r == nil || filename == "" || filename == "." || filename == string(filepath.Separator) {
		return nil, ErrNoFile
	}
	if err := s.client.Session().RequireRole(model.RoleAdmin); err != nil {
		return nil, err
	}

	data, err := s.client.Upload(ctx, path, fileField, filename, r, query)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	var res model.UploadResult
	if err = model.JSONUnmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode upload result: %w", err)
	}
	s.log.Info().Str("path", path).Str("file", filename).Int("rows", res.RowsInserted).Msg("spreadsheet uploaded")
	return &res, nil
}
