package rag

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter 统计文本的 token 数，用于 Chunk.TokenCount。
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateCounter 字符估算计数器（~4 字符/token）。
type EstimateCounter struct{}

// NewEstimateCounter 创建估算计数器。
func NewEstimateCounter() *EstimateCounter {
	return &EstimateCounter{}
}

// CountTokens 返回估算的 token 数。
func (c *EstimateCounter) CountTokens(text string) int {
	return len(text) / 4
}

// TiktokenCounter 基于 tiktoken 编码的精确计数器。
// 编码失败时回退到字符估算并记录警告。
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	logger   *zap.Logger
}

// NewTiktokenCounter 创建 tiktoken 计数器。
// model 指定 tiktoken 模型（如 "gpt-4o"）；编码数据不可用时返回错误，
// 调用方应回退到 NewEstimateCounter。
func NewTiktokenCounter(model string, logger *zap.Logger) (*TiktokenCounter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding for %s: %w", model, err)
	}
	return &TiktokenCounter{encoding: enc, logger: logger}, nil
}

// CountTokens 返回编码后的 token 数。
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}
