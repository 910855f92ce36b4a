package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashaatefac/Recipe-Sharing/internal/metrics"
	"github.com/hashaatefac/Recipe-Sharing/internal/middleware"
	"github.com/hashaatefac/Recipe-Sharing/internal/model"
)

const (
	proxyUserAgent     = "Mozilla/5.0 (compatible; RecipeApp/1.0)"
	defaultContentType = "image/jpeg"
	imageCacheControl  = "public, max-age=3600"
)

var errImageTooLarge = errors.New("image exceeds size limit")

// URLValidator は上流へ送る前に画像URLを検証する。
type URLValidator interface {
	ValidateImageURL(rawURL string) (*url.URL, error)
}

// ImageProxyHandler は外部画像を取得してそのまま返すHTTPハンドラー。
// 画像の変換は行わない。
type ImageProxyHandler struct {
	client    *http.Client
	validator URLValidator
	maxSize   int64
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewImageProxyHandler はImageProxyHandlerを生成する。
// client には SSRF 防止付きのクライアントを渡す。
func NewImageProxyHandler(client *http.Client, validator URLValidator, maxSize int64, mc metrics.MetricsCollector, logger *slog.Logger) *ImageProxyHandler {
	return &ImageProxyHandler{
		client:    client,
		validator: validator,
		maxSize:   maxSize,
		metrics:   mc,
		logger:    logger,
	}
}

// ServeHTTP は画像を取得して返す。
// GET /api/image-proxy?url=<絶対URL>
func (h *ImageProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		h.fail(w, http.StatusBadRequest, metrics.OutcomeMissingURL, model.NewImageURLRequiredError())
		return
	}

	target, err := h.validator.ValidateImageURL(raw)
	if err != nil {
		h.logger.Warn("image proxy rejected url", slog.String("error", err.Error()))
		h.fail(w, http.StatusInternalServerError, metrics.OutcomeRejected, model.NewImageFetchFailedError())
		return
	}

	start := time.Now()
	body, contentType, err := h.fetch(r, target)
	h.metrics.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		outcome := metrics.OutcomeUpstreamError
		if errors.Is(err, errImageTooLarge) {
			outcome = metrics.OutcomeTooLarge
		}
		h.logger.Error("image proxy fetch failed",
			slog.String("host", target.Host),
			slog.String("error", err.Error()),
		)
		h.fail(w, http.StatusInternalServerError, outcome, model.NewImageFetchFailedError())
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", imageCacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(body)

	h.metrics.RecordProxyResult(metrics.OutcomeServed)
	h.metrics.RecordHTTPStatus(http.StatusOK)
	h.metrics.RecordBytesServed(int64(n))
}

// fetch は上流から画像を取得し、本文とContent-Typeを返す。
// 2xx以外とサイズ上限超過はエラーとする。
func (h *ImageProxyHandler) fetch(r *http.Request, target *url.URL) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", proxyUserAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > h.maxSize {
		return nil, "", fmt.Errorf("%w: content-length %d", errImageTooLarge, resp.ContentLength)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, h.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upstream body: %w", err)
	}
	if n > h.maxSize {
		return nil, "", fmt.Errorf("%w: more than %d bytes", errImageTooLarge, h.maxSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return buf.Bytes(), contentType, nil
}

func (h *ImageProxyHandler) fail(w http.ResponseWriter, status int, outcome string, apiErr *model.APIError) {
	h.metrics.RecordProxyResult(outcome)
	h.metrics.RecordHTTPStatus(status)
	middleware.WriteErrorResponse(w, status, apiErr)
}
