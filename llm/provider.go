// Package llm 封装对外部大语言模型协作方的访问.
//
// 核心只依赖两个能力：自由文本补全（答案综合）和结构化抽取
// （实体/关系）。所有网络调用带显式超时和客户端限流；
// 上游失败和不可解析输出以 types.Error 形式返回，
// 由调用方（graph 层、workflow 层）决定回退策略。
package llm

import "context"

// Provider 定义补全协作方接口.
type Provider interface {
	// Complete 以 prompt 为输入返回模型生成的文本.
	Complete(ctx context.Context, prompt string) (string, error)

	// Name 返回提供者名称.
	Name() string
}

// StaticProvider 返回预置响应的测试替身.
// 按调用顺序依次返回 Responses；耗尽后重复最后一条。
type StaticProvider struct {
	Responses []string
	Err       error
	calls     int
}

func (p *StaticProvider) Name() string { return "static" }

// Complete 返回下一条预置响应.
func (p *StaticProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Responses) == 0 {
		return "", nil
	}
	i := p.calls
	if i >= len(p.Responses) {
		i = len(p.Responses) - 1
	}
	p.calls++
	return p.Responses[i], nil
}
