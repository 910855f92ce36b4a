package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// StorageClient はゲートウェイのオブジェクトストレージAPIクライアント。
type StorageClient struct {
	t      *transport
	tokens TokenSource
}

// Upload はオブジェクトをアップロードする。同じキーが存在する場合は上書きする。
func (s *StorageClient) Upload(ctx context.Context, bucket, key, contentType string, data []byte) error {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve access token: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.t.do(ctx, request{
		scope:  ScopeStorage,
		method: http.MethodPost,
		path:   "/storage/v1/object/" + escapePath(bucket) + "/" + escapePath(key),
		header: http.Header{
			"Content-Type":  {contentType},
			"x-upsert":      {"true"},
			"Cache-Control": {"max-age=3600"},
		},
		body:   bytes.NewReader(data),
		bearer: token,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PublicURL は公開バケット内オブジェクトの公開URLを返す。
func (s *StorageClient) PublicURL(bucket, key string) string {
	return s.t.baseURL + "/storage/v1/object/public/" + escapePath(bucket) + "/" + escapePath(key)
}

// escapePath はスラッシュ区切りを保ったままパスの各要素をエスケープする。
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
