package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

// AssetService stores template file assets under a per-owner directory and
// keeps a metadata row per blob. Stored names are random; the original file
// name survives only in metadata.
type AssetService struct {
	assetRepo   repository.AssetRepository
	storageRoot string
	maxBytes    int64
	apiPrefix   string
}

func NewAssetService(assetRepo repository.AssetRepository, storageRoot string, maxBytes int64, apiPrefix string) *AssetService {
	return &AssetService{
		assetRepo:   assetRepo,
		storageRoot: storageRoot,
		maxBytes:    maxBytes,
		apiPrefix:   apiPrefix,
	}
}

func (s *AssetService) StoreUpload(ctx context.Context, ownerID, fileName string, contentType *string, body io.Reader) (*model.TemplateAsset, error) {
	name := sanitizeFileName(fileName)
	if name == "" {
		name = "asset"
	}

	dir := filepath.Join(s.storageRoot, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return nil, fmt.Errorf("random asset name: %w", err)
	}
	target := filepath.Join(dir, hex.EncodeToString(random)+filepath.Ext(name))

	out, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create asset file: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), io.LimitReader(body, s.maxBytes+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("write asset file: %w", err)
	}
	if size == 0 {
		os.Remove(target)
		return nil, apperrors.ValidationError("uploaded file is empty")
	}
	if size > s.maxBytes {
		os.Remove(target)
		return nil, apperrors.ValidationError(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	asset, err := s.assetRepo.Create(ctx, model.CreateAssetParams{
		OwnerID:     ownerID,
		FileName:    name,
		ContentType: contentType,
		SizeBytes:   size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		StoragePath: target,
	})
	if err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("create asset record: %w", err)
	}

	log.Info().
		Str("assetId", asset.ID).
		Str("ownerId", ownerID).
		Int64("sizeBytes", size).
		Msg("template asset stored")

	return asset, nil
}

// GetForOwner loads an asset and enforces ownership.
func (s *AssetService) GetForOwner(ctx context.Context, assetID, ownerID string) (*model.TemplateAsset, error) {
	asset, err := s.assetRepo.FindByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("find asset: %w", err)
	}
	if asset == nil {
		return nil, apperrors.NotFound("asset")
	}
	if asset.OwnerID != ownerID {
		return nil, apperrors.Forbidden("asset belongs to a different account")
	}
	return asset, nil
}

func (s *AssetService) Open(asset *model.TemplateAsset) (io.ReadCloser, error) {
	return os.Open(asset.StoragePath)
}

// DownloadPath is the HTTP path a device or browser fetches the blob from.
func (s *AssetService) DownloadPath(asset *model.TemplateAsset) string {
	return fmt.Sprintf("%s/customer/assets/%s", s.apiPrefix, asset.ID)
}

func sanitizeFileName(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, "\x00", "")
	base = strings.TrimSpace(base)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
