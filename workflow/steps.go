package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/bidflow/llm"
	"github.com/BaSui01/bidflow/rag"
	"github.com/BaSui01/bidflow/types"
)

// StepOutput 单个步骤的执行产出
type StepOutput struct {
	Payload    types.JSONMap
	Confidence float64
}

// Step 流水线步骤。
// 返回错误意味着整个工作流致命失败；"结构有效但部分为空"的结果
// （如零答案）不是错误，步骤应返回成功产出并让流水线继续。
type Step interface {
	Name() types.StepName
	Run(ctx context.Context, wf *types.Workflow) (*StepOutput, error)
}

// =============================================================================
// 1️⃣ 文档摄取
// =============================================================================

type ingestionStep struct {
	svc *Services
}

func (s *ingestionStep) Name() types.StepName { return types.StepDocumentIngestion }

// Run 抽取文本、切块嵌入、写入向量存储并建图。
// 单个文档失败只降级跳过，全部文档失败才算步骤失败。
func (s *ingestionStep) Run(ctx context.Context, wf *types.Workflow) (*StepOutput, error) {
	docs, err := s.svc.Store.ListDocuments(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, types.NewError(types.ErrEmptyStepOutput, "workflow has no documents to ingest")
	}

	ingested := 0
	for i := range docs {
		doc := &docs[i]
		if err := s.ingestOne(ctx, wf, doc); err != nil {
			s.svc.Logger.Warn("document ingestion failed, skipping",
				zap.String("workflow_id", wf.ID),
				zap.String("document_id", doc.ID),
				zap.Error(err))
			_ = s.svc.Store.UpdateDocumentStatus(ctx, doc.ID, types.DocumentFailed)
			continue
		}
		ingested++
	}
	if ingested == 0 {
		return nil, types.NewError(types.ErrEmptyStepOutput, "no document could be ingested")
	}

	return &StepOutput{
		Payload: types.JSONMap{
			"documents_total":    len(docs),
			"documents_ingested": ingested,
		},
		Confidence: float64(ingested) / float64(len(docs)),
	}, nil
}

func (s *ingestionStep) ingestOne(ctx context.Context, wf *types.Workflow, doc *types.Document) error {
	// 已有全文的文档（如测试注入）不重复抽取
	if doc.Text == "" {
		text, meta, err := s.svc.Extractor.Extract(ctx, doc.StoragePath)
		if err != nil {
			return err
		}
		doc.Text = text
		doc.Size = meta.Size
		doc.ContentType = meta.ContentType
	}
	doc.Status = types.DocumentExtracted
	if err := s.svc.Store.UpdateDocument(ctx, doc); err != nil {
		return err
	}

	metadata := map[string]any{"document_name": doc.Name}
	for k, v := range doc.Metadata {
		metadata[k] = v
	}

	ok, err := s.svc.Vector.VectorizeDocument(ctx, wf.ID, doc.ID, doc.Text, metadata)
	if err != nil {
		return err
	}
	if ok && s.svc.Metrics != nil {
		s.svc.Metrics.RecordDocumentIndexed(s.svc.Vector.Active())
	}

	// 图侧：文档节点、段落、实体与关系
	if err := s.svc.Graph.CreateDocument(ctx, doc); err != nil {
		return err
	}
	chunks, err := s.svc.Pipeline.ChunkDocument(ctx, doc)
	if err != nil {
		return err
	}
	if err := s.svc.Graph.CreateChunksWithEmbeddings(ctx, chunks); err != nil {
		return err
	}

	entities, err := s.svc.Graph.ExtractAndCreateEntities(ctx, wf.ID, doc.ID, doc.Text)
	if err != nil {
		return err
	}
	if _, err := s.svc.Graph.CreateEntityRelationships(ctx, wf.ID, entities); err != nil {
		return err
	}

	return s.svc.Store.UpdateDocumentStatus(ctx, doc.ID, types.DocumentIndexed)
}

// =============================================================================
// 2️⃣ 需求分析
// =============================================================================

type requirementsStep struct {
	svc *Services
}

func (s *requirementsStep) Name() types.StepName { return types.StepRequirementsAnalysis }

const requirementsPrompt = `Analyze the following bid document text and list the buyer requirements.
Return ONLY a JSON array. Each element: {"category": string, "priority": "high"|"medium"|"low", "description": string}.

Text:
%s`

type extractedRequirement struct {
	Category    string `json:"category"`
	Priority    string `json:"priority"`
	Description string `json:"description"`
}

// modalSentence 规则回退：含义务性措辞的句子视为需求
var modalSentence = regexp.MustCompile(`(?i)[^.!?\n]*\b(must|shall|required|mandatory|no later than)\b[^.!?\n]*[.!?]?`)

// Run 从文档全文提取需求条目，LLM 不可用时降级到规则提取。
// 零需求是结构有效的空结果，不致命（后续问题步骤会因此致命）。
func (s *requirementsStep) Run(ctx context.Context, wf *types.Workflow) (*StepOutput, error) {
	docs, err := s.svc.Store.ListDocuments(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	var corpus strings.Builder
	for _, doc := range docs {
		corpus.WriteString(doc.Text)
		corpus.WriteString("\n")
	}

	extracted, confidence := s.extract(ctx, corpus.String())

	requirements := make([]types.Requirement, 0, len(extracted))
	for _, r := range extracted {
		if strings.TrimSpace(r.Description) == "" {
			continue
		}
		requirements = append(requirements, types.Requirement{
			ID:          uuid.NewString(),
			WorkflowID:  wf.ID,
			Category:    defaultString(r.Category, "general"),
			Priority:    normalizePriority(r.Priority),
			Description: strings.TrimSpace(r.Description),
			CreatedAt:   time.Now(),
		})
	}
	if err := s.svc.Store.CreateRequirements(ctx, requirements); err != nil {
		return nil, fmt.Errorf("persist requirements: %w", err)
	}

	return &StepOutput{
		Payload:    types.JSONMap{"requirements": len(requirements)},
		Confidence: confidence,
	}, nil
}

func (s *requirementsStep) extract(ctx context.Context, text string) ([]extractedRequirement, float64) {
	if s.svc.LLM != nil {
		raw, err := s.svc.LLM.Complete(ctx, fmt.Sprintf(requirementsPrompt, text))
		if err == nil {
			var extracted []extractedRequirement
			if err := llm.DecodeJSONArray(raw, &extracted); err == nil {
				return extracted, 0.85
			}
			s.svc.Logger.Warn("requirements output unparsable, falling back to rules", zap.String("raw", truncateForLog(raw)))
		} else {
			s.svc.Logger.Warn("requirements extraction call failed, falling back to rules", zap.Error(err))
		}
	}

	// 规则回退：逐句找义务性措辞
	var extracted []extractedRequirement
	seen := make(map[string]bool)
	for _, sentence := range modalSentence.FindAllString(text, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" || seen[sentence] {
			continue
		}
		seen[sentence] = true
		extracted = append(extracted, extractedRequirement{
			Category:    "general",
			Priority:    "medium",
			Description: sentence,
		})
	}
	return extracted, 0.5
}

// =============================================================================
// 3️⃣ 澄清问题生成
// =============================================================================

type questionsStep struct {
	svc *Services
}

func (s *questionsStep) Name() types.StepName { return types.StepClarificationQuestions }

const questionsPrompt = `For each requirement below, write one clarification question a bid reviewer should ask.
Return ONLY a JSON array. Each element: {"requirement_id": string, "text": string}.

Requirements:
%s`

type extractedQuestion struct {
	RequirementID string `json:"requirement_id"`
	Text          string `json:"text"`
}

// Run 为每条需求生成澄清问题。
// 零问题是整个工作流的致命失败：没有问题就没有后续分析可做。
func (s *questionsStep) Run(ctx context.Context, wf *types.Workflow) (*StepOutput, error) {
	requirements, err := s.svc.Store.ListRequirements(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list requirements: %w", err)
	}

	byID := make(map[string]*types.Requirement, len(requirements))
	var listing strings.Builder
	for i := range requirements {
		r := &requirements[i]
		byID[r.ID] = r
		fmt.Fprintf(&listing, "- id=%s [%s/%s] %s\n", r.ID, r.Category, r.Priority, r.Description)
	}

	extracted, confidence := s.generate(ctx, requirements, listing.String())

	questions := make([]types.Question, 0, len(extracted))
	for _, q := range extracted {
		text := strings.TrimSpace(q.Text)
		if text == "" {
			continue
		}
		question := types.Question{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			Text:       text,
			Category:   "general",
			Priority:   types.PriorityMedium,
			CreatedAt:  time.Now(),
		}
		if r, ok := byID[q.RequirementID]; ok {
			question.RequirementID = r.ID
			question.Category = r.Category
			question.Priority = r.Priority
		}
		questions = append(questions, question)
	}

	if len(questions) == 0 {
		// 必须有产出的步骤给出空集：致命，中止整个工作流
		return nil, types.NewError(types.ErrEmptyStepOutput,
			"clarification step produced zero questions")
	}

	if err := s.svc.Store.CreateQuestions(ctx, questions); err != nil {
		return nil, fmt.Errorf("persist questions: %w", err)
	}

	return &StepOutput{
		Payload:    types.JSONMap{"questions": len(questions)},
		Confidence: confidence,
	}, nil
}

func (s *questionsStep) generate(ctx context.Context, requirements []types.Requirement, listing string) ([]extractedQuestion, float64) {
	if s.svc.LLM != nil && len(requirements) > 0 {
		raw, err := s.svc.LLM.Complete(ctx, fmt.Sprintf(questionsPrompt, listing))
		if err == nil {
			var extracted []extractedQuestion
			if err := llm.DecodeJSONArray(raw, &extracted); err == nil {
				return extracted, 0.85
			}
			s.svc.Logger.Warn("questions output unparsable, falling back to templates", zap.String("raw", truncateForLog(raw)))
		} else {
			s.svc.Logger.Warn("question generation call failed, falling back to templates", zap.Error(err))
		}
	}

	// 模板回退：每条需求一问
	extracted := make([]extractedQuestion, 0, len(requirements))
	for _, r := range requirements {
		extracted = append(extracted, extractedQuestion{
			RequirementID: r.ID,
			Text:          fmt.Sprintf("Please clarify how the following requirement will be met: %s", r.Description),
		})
	}
	return extracted, 0.5
}

// =============================================================================
// 4️⃣ 答案检索
// =============================================================================

type answersStep struct {
	svc *Services
}

func (s *answersStep) Name() types.StepName { return types.StepAnswerExtraction }

const answerPrompt = `Answer the question using ONLY the passages below. Be concise.
If the passages do not contain the answer, reply with exactly: NO_ANSWER

Question: %s

Passages:
%s`

// Run 对每个问题做混合检索并综合答案。
// 单个问题无答案只跳过；零答案是结构有效的空结果，流水线继续。
func (s *answersStep) Run(ctx context.Context, wf *types.Workflow) (*StepOutput, error) {
	questions, err := s.svc.Store.ListQuestions(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	opts := rag.OptionsFromConfig(s.svc.Config.Retrieval)
	answers := make([]types.Answer, 0, len(questions))

	for _, question := range questions {
		answer, ok := s.answerOne(ctx, wf, &question, opts)
		if !ok {
			continue
		}
		answers = append(answers, *answer)
	}

	if err := s.svc.Store.CreateAnswers(ctx, answers); err != nil {
		return nil, fmt.Errorf("persist answers: %w", err)
	}

	confidence := 0.0
	if len(questions) > 0 {
		confidence = float64(len(answers)) / float64(len(questions))
	}
	return &StepOutput{
		Payload: types.JSONMap{
			"questions": len(questions),
			"answers":   len(answers),
		},
		Confidence: confidence,
	}, nil
}

func (s *answersStep) answerOne(ctx context.Context, wf *types.Workflow, question *types.Question, opts rag.SearchOptions) (*types.Answer, bool) {
	start := time.Now()
	results, err := s.svc.Retriever.HybridSearch(ctx, wf.ID, question.Text, opts)
	if s.svc.Metrics != nil {
		s.svc.Metrics.RecordSearch("hybrid", time.Since(start))
	}
	if err != nil || len(results) == 0 {
		return nil, false
	}

	var passages strings.Builder
	citations := make(types.JSONSlice, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&passages, "[%d] %s\n", i+1, r.Content)
		citations = append(citations, map[string]any{
			"document_id": r.DocumentID,
			"excerpt":     truncateForLog(r.Content),
			"similarity":  r.Score,
		})
	}

	text := s.synthesize(ctx, question.Text, passages.String())
	if text == "" {
		return nil, false
	}

	return &types.Answer{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		QuestionID: question.ID,
		Category:   question.Category,
		Priority:   question.Priority,
		Text:       text,
		Confidence: results[0].Score,
		Citations:  citations,
		CreatedAt:  time.Now(),
	}, true
}

// synthesize 用 LLM 综合答案；LLM 不可用时直接引用最相关段落
func (s *answersStep) synthesize(ctx context.Context, question, passages string) string {
	if s.svc.LLM != nil {
		raw, err := s.svc.LLM.Complete(ctx, fmt.Sprintf(answerPrompt, question, passages))
		if err == nil {
			raw = strings.TrimSpace(raw)
			if raw == "" || strings.EqualFold(raw, "NO_ANSWER") {
				return ""
			}
			return raw
		}
		s.svc.Logger.Warn("answer synthesis call failed, quoting top passage", zap.Error(err))
	}

	// 回退：引用第一段
	first := strings.SplitN(passages, "\n", 2)[0]
	return strings.TrimSpace(strings.TrimPrefix(first, "[1]"))
}

// =============================================================================
// 5️⃣ 响应汇编
// =============================================================================

type compilationStep struct {
	svc *Services
}

func (s *compilationStep) Name() types.StepName { return types.StepResponseCompilation }

// Run 汇总全流程产出为最终响应负载
func (s *compilationStep) Run(ctx context.Context, wf *types.Workflow) (*StepOutput, error) {
	requirements, err := s.svc.Store.ListRequirements(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	questions, err := s.svc.Store.ListQuestions(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	answers, err := s.svc.Store.ListAnswers(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	coverage := 0.0
	if len(questions) > 0 {
		coverage = float64(len(answers)) / float64(len(questions))
	}

	var avgConfidence float64
	for _, a := range answers {
		avgConfidence += a.Confidence
	}
	if len(answers) > 0 {
		avgConfidence /= float64(len(answers))
	}

	export, err := s.svc.Graph.WorkflowGraph(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	return &StepOutput{
		Payload: types.JSONMap{
			"requirements":   len(requirements),
			"questions":      len(questions),
			"answers":        len(answers),
			"coverage":       coverage,
			"avg_confidence": avgConfidence,
			"graph_nodes":    len(export.Nodes),
			"graph_edges":    len(export.Edges),
		},
		Confidence: coverage,
	}, nil
}

// =============================================================================
// 公共小工具
// =============================================================================

func normalizePriority(p string) types.Priority {
	switch types.Priority(strings.ToLower(strings.TrimSpace(p))) {
	case types.PriorityHigh:
		return types.PriorityHigh
	case types.PriorityLow:
		return types.PriorityLow
	default:
		return types.PriorityMedium
	}
}

func defaultString(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
