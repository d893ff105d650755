// Package rag 实现检索增强的核心流水线：
//
//   - 分块：按空白符分词的滑动窗口切分（chunk_size / overlap），
//     产出带序号和嵌入向量的 Chunk。
//   - 嵌入：委托给 llm/embedding.Provider，维度不符是致命配置错误。
//   - 混合检索：向量检索与图检索并发扇出，按可配置权重融合去重，
//     两侧任一失败只降级不中断。
//
// 向量存储本身见 vectorstore 包，图索引见 graph 包。
package rag
