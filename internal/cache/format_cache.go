// Package cache 缓存 yt-dlp 解析结果, 按 URL 做 LRU 淘汰, 不设过期时间
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"vasset/fetch-service/internal/formats"
	"vasset/fetch-service/internal/models"
	"vasset/fetch-service/internal/utils"
)

// DefaultSize 默认缓存条目数
const DefaultSize = 100

// Extractor 视频信息提取器
type Extractor interface {
	ExtractInfo(ctx context.Context, url string) (*models.VideoInfo, error)
}

// formatsKey 格式缓存键
type formatsKey struct {
	URL      string
	Filtered bool
}

type formatsEntry struct {
	list    []models.Format
	buckets *models.Buckets
}

// FormatCache 视频信息与格式缓存
// 同一 key 的并发未命中可能各自调用一次提取器
type FormatCache struct {
	info      *lru.Cache[string, *models.VideoInfo]
	formats   *lru.Cache[formatsKey, *formatsEntry]
	extractor Extractor
	logger    *zap.Logger
}

// NewFormatCache 创建格式缓存
func NewFormatCache(extractor Extractor, infoSize, formatsSize int, logger *zap.Logger) (*FormatCache, error) {
	if infoSize <= 0 {
		infoSize = DefaultSize
	}
	if formatsSize <= 0 {
		formatsSize = DefaultSize
	}

	info, err := lru.New[string, *models.VideoInfo](infoSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create info cache: %w", err)
	}
	fmts, err := lru.New[formatsKey, *formatsEntry](formatsSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create formats cache: %w", err)
	}

	return &FormatCache{
		info:      info,
		formats:   fmts,
		extractor: extractor,
		logger:    logger,
	}, nil
}

// GetInfo 获取视频元数据 (不含格式列表)
func (c *FormatCache) GetInfo(ctx context.Context, url string) (*models.VideoInfo, error) {
	if info, ok := c.info.Get(url); ok {
		c.logger.Debug("info cache hit", zap.String("url", url))
		return info, nil
	}

	raw, err := c.extract(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.addInfo(url, raw), nil
}

// GetFormats 获取完整格式列表
func (c *FormatCache) GetFormats(ctx context.Context, url string) ([]models.Format, error) {
	entry, err := c.getFormats(ctx, url, false)
	if err != nil {
		return nil, err
	}
	return entry.list, nil
}

// GetBuckets 获取按质量分组的格式
func (c *FormatCache) GetBuckets(ctx context.Context, url string) (*models.Buckets, error) {
	entry, err := c.getFormats(ctx, url, true)
	if err != nil {
		return nil, err
	}
	return entry.buckets, nil
}

// GetSelection 获取分组结果及其来源的完整格式列表, 两者出自同一次提取
func (c *FormatCache) GetSelection(ctx context.Context, url string) (*models.Buckets, []models.Format, error) {
	entry, err := c.getFormats(ctx, url, true)
	if err != nil {
		return nil, nil, err
	}
	return entry.buckets, entry.list, nil
}

func (c *FormatCache) getFormats(ctx context.Context, url string, filtered bool) (*formatsEntry, error) {
	key := formatsKey{URL: url, Filtered: filtered}
	if entry, ok := c.formats.Get(key); ok {
		c.logger.Debug("formats cache hit", zap.String("url", url), zap.Bool("filtered", filtered))
		return entry, nil
	}

	info, err := c.extract(ctx, url)
	if err != nil {
		return nil, err
	}

	list := formats.NormalizeFormats(info.Formats, info.Duration)
	entry := &formatsEntry{list: list}
	if filtered {
		entry.buckets = formats.BucketFormats(list)
	}

	c.formats.Add(key, entry)
	if !c.info.Contains(url) {
		c.addInfo(url, info)
	}
	return entry, nil
}

// addInfo 缓存去掉格式列表的元数据
func (c *FormatCache) addInfo(url string, raw *models.VideoInfo) *models.VideoInfo {
	info := *raw
	info.Formats = nil
	c.info.Add(url, &info)
	return &info
}

// extract 调用提取器, 失败不写缓存
func (c *FormatCache) extract(ctx context.Context, url string) (*models.VideoInfo, error) {
	info, err := c.extractor.ExtractInfo(ctx, url)
	if err != nil {
		c.logger.Warn("extraction failed", zap.String("url", url), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", utils.ErrExtractionFailed, err)
	}
	return info, nil
}

// limitedExtractor 限制同时运行的提取进程数
type limitedExtractor struct {
	next    Extractor
	limiter *utils.ConcurrencyLimiter
}

// WithLimit 为提取器加上并发限制
func WithLimit(next Extractor, limiter *utils.ConcurrencyLimiter) Extractor {
	return &limitedExtractor{next: next, limiter: limiter}
}

func (e *limitedExtractor) ExtractInfo(ctx context.Context, url string) (*models.VideoInfo, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.limiter.Release()
	return e.next.ExtractInfo(ctx, url)
}
