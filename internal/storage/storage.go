// Package storage はレシピ画像のオブジェクトストレージへの保存を提供する。
package storage

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hashaatefac/Recipe-Sharing/internal/gateway"
)

// ImageStore は画像を保存し、公開URLを返すストレージを抽象化する。
type ImageStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (publicURL string, err error)
}

// NewObjectKey はレシピ画像のオブジェクトキーを生成する。
// 所有者ごとのプレフィックスの下にランダムなファイル名を割り当て、元の拡張子を保つ。
func NewObjectKey(ownerID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return ownerID + "/" + uuid.NewString() + ext
}

// DetectContentType はファイル名の拡張子、なければ内容からContent-Typeを判定する。
func DetectContentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// GatewayStore はゲートウェイのストレージAPIに画像を保存する。
type GatewayStore struct {
	client *gateway.StorageClient
	bucket string
}

// compile-time interface check
var _ ImageStore = (*GatewayStore)(nil)

// NewGatewayStore はGatewayStoreを生成する。
func NewGatewayStore(client *gateway.StorageClient, bucket string) *GatewayStore {
	return &GatewayStore{client: client, bucket: bucket}
}

// Upload は画像をアップロードし、公開URLを返す。
func (s *GatewayStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := s.client.Upload(ctx, s.bucket, key, contentType, data); err != nil {
		return "", fmt.Errorf("画像のアップロードに失敗しました: %w", err)
	}
	return s.client.PublicURL(s.bucket, key), nil
}
