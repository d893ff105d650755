// Package types 定义 bidflow 的核心领域模型与统一错误类型。
//
// 所有记录均以 workflow 为分区边界：每个 Chunk、Entity、Relationship、
// Requirement、Question、Answer 都归属且仅归属一个 Workflow，
// 跨 workflow 泄漏属于正确性缺陷，存储层必须按 WorkflowID 隔离。
//
// 本包不依赖任何存储实现，仅提供 gorm 标签与 JSON 序列化辅助类型，
// 供 internal/database 与各组件共享。
package types
