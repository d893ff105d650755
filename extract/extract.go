// Package extract 定义原始文档文本抽取协作方的接口边界.
//
// PDF/DOCX/XLSX 等格式的解析属于外部协作方，核心只消费纯文本。
// 本包自带的 PlainTextExtractor 处理 .txt/.md，同时作为测试替身。
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/bidflow/types"
)

// Metadata 抽取得到的文档元信息.
type Metadata struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Extractor 文本抽取协作方接口.
type Extractor interface {
	// Extract 从文件中抽取纯文本与元信息.
	// 不支持的格式返回 types.ErrUnsupportedFormat；
	// 解析失败返回 types.ErrExtractionFailed。
	Extract(ctx context.Context, path string) (string, Metadata, error)
}

// PlainTextExtractor 处理纯文本类文件.
type PlainTextExtractor struct{}

// NewPlainTextExtractor 创建纯文本抽取器.
func NewPlainTextExtractor() *PlainTextExtractor {
	return &PlainTextExtractor{}
}

var plainExtensions = map[string]string{
	".txt": "text/plain",
	".md":  "text/markdown",
	".csv": "text/csv",
}

// Extract 从文件中抽取纯文本与元信息.
func (e *PlainTextExtractor) Extract(ctx context.Context, path string) (string, Metadata, error) {
	if err := ctx.Err(); err != nil {
		return "", Metadata{}, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := plainExtensions[ext]
	if !ok {
		return "", Metadata{}, types.NewError(types.ErrUnsupportedFormat,
			fmt.Sprintf("unsupported file extension %q", ext))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", Metadata{}, types.NewError(types.ErrExtractionFailed, "read file").WithCause(err)
	}

	return string(data), Metadata{Size: int64(len(data)), ContentType: contentType}, nil
}
