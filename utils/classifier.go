package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"salesloop/models"

	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"
)

const classifierPrompt = `You classify a prospect's reply to an outbound sales message.
Answer with a single JSON object, nothing else:
{"classification": "<intent>", "confidence": <0..1>, "reasoning": "<one sentence>"}
<intent> must be exactly one of: interested, not_interested, meeting_request,
proposal_request, out_of_office, unsubscribe, other.
Replies may be in Portuguese or English.

Reply:
`

// ruleEntry is one fallback classification rule. Order matters: rules
// are checked top to bottom and the first match wins.
type ruleEntry struct {
	intent     models.Intent
	confidence float64
	re         *regexp.Regexp
}

var classifierRules = []ruleEntry{
	{models.IntentOutOfOffice, 0.70, regexp.MustCompile(`(?i)out of office|away until|on vacation|on leave|f[ée]rias|fora do escrit[óo]rio|ausente at[ée]|licen[çc]a`)},
	{models.IntentUnsubscribe, 0.80, regexp.MustCompile(`(?i)unsubscribe|remove me|stop (emailing|contacting)|descadastr|n[ãa]o quero receber|pare de (me )?enviar|remover meu`)},
	{models.IntentNotInterested, 0.75, regexp.MustCompile(`(?i)not interested|no interest|n[ãa]o (tenho|temos) interesse|sem interesse|n[ãa]o estou interessad|n[ãa]o estamos interessad`)},
	{models.IntentMeetingRequest, 0.70, regexp.MustCompile(`(?i)\b(meeting|schedule|calendly|agendar|reuni[ãa]o|marcar|call|liga[çc][ãa]o|hor[áa]rio)\b`)},
	{models.IntentProposalRequest, 0.70, regexp.MustCompile(`(?i)proposal|quote|pricing|send me more|proposta|or[çc]amento|pre[çc]o|valores|quanto custa`)},
	{models.IntentInterested, 0.60, regexp.MustCompile(`(?i)interested|tell me more|sounds (good|great)|interessad|quero saber|conte mais|faz sentido`)},
}

// Classification is the outcome of classifying one reply.
type Classification struct {
	Intent     models.Intent
	Confidence float64
	Reasoning  string
	Source     string // llm, rules
}

// ReplyClassifier maps free-text reply content to an intent. It
// prefers an LLM call with a constrained prompt; on missing
// credentials, transport failure or unparsable output it falls back
// to the ordered rule set, so classification always produces a result.
type ReplyClassifier struct {
	DB     *gorm.DB
	Logger *log.Logger

	Client  *openai.Client
	Model   string
	Timeout time.Duration
}

func NewReplyClassifier(db *gorm.DB, logger *log.Logger, apiKey, model string, timeout time.Duration) *ReplyClassifier {
	rc := &ReplyClassifier{
		DB:      db,
		Logger:  logger,
		Model:   model,
		Timeout: timeout,
	}
	if apiKey != "" {
		rc.Client = openai.NewClient(apiKey)
	}
	return rc
}

// Classify never returns an error: any LLM trouble degrades to the
// rule-based path.
func (rc *ReplyClassifier) Classify(ctx context.Context, text string) Classification {
	if rc.Client != nil {
		if result, err := rc.classifyWithLLM(ctx, text); err == nil {
			return result
		} else {
			rc.Logger.Printf("LLM classification unavailable, falling back to rules: %v", err)
		}
	}
	return rc.classifyWithRules(text)
}

func (rc *ReplyClassifier) classifyWithLLM(ctx context.Context, text string) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, rc.Timeout)
	defer cancel()

	resp, err := rc.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: rc.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: classifierPrompt + text},
		},
		MaxTokens:   150,
		Temperature: 0,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Classification{}, fmt.Errorf("chat completion returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	// Models occasionally wrap JSON in a code fence
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Classification string  `json:"classification"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return Classification{}, fmt.Errorf("unparsable classifier output: %w", err)
	}

	intent := models.Intent(parsed.Classification)
	if !models.ValidIntent(intent) {
		return Classification{}, fmt.Errorf("classifier returned unknown intent %q", parsed.Classification)
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return Classification{}, fmt.Errorf("classifier returned out-of-range confidence %v", parsed.Confidence)
	}

	return Classification{
		Intent:     intent,
		Confidence: parsed.Confidence,
		Reasoning:  parsed.Reasoning,
		Source:     "llm",
	}, nil
}

func (rc *ReplyClassifier) classifyWithRules(text string) Classification {
	for _, rule := range classifierRules {
		if rule.re.MatchString(text) {
			return Classification{
				Intent:     rule.intent,
				Confidence: rule.confidence,
				Reasoning:  fmt.Sprintf("matched %s rule", rule.intent),
				Source:     "rules",
			}
		}
	}
	return Classification{
		Intent:     models.IntentOther,
		Confidence: 0.30,
		Reasoning:  "no rule matched",
		Source:     "rules",
	}
}

// ApplySideEffects runs the intent-specific actions and returns the
// tags of what was done. Everything except task creation is guarded by
// existing-state checks so re-running is safe; tasks are
// fire-and-forget per classification event.
func (rc *ReplyClassifier) ApplySideEffects(intent models.Intent, lead *models.Lead, contact *models.Contact) []string {
	var actions []string

	ownerID, leadID, contactID := targetIdentity(lead, contact)

	switch intent {
	case models.IntentMeetingRequest:
		rc.createTask(&actions, models.Task{
			OwnerID:   ownerID,
			LeadID:    leadID,
			ContactID: contactID,
			Title:     "Agendar reunião",
			Priority:  models.TaskHigh,
			DueDate:   Pointer(endOfToday()),
		})
		rc.advanceDeals(&actions, leadID, contactID, []models.DealStage{models.StageLead}, models.StageContatoFeito)

	case models.IntentProposalRequest:
		rc.createTask(&actions, models.Task{
			OwnerID:   ownerID,
			LeadID:    leadID,
			ContactID: contactID,
			Title:     "Enviar proposta",
			Priority:  models.TaskHigh,
			DueDate:   Pointer(endOfToday()),
		})
		rc.advanceDeals(&actions, leadID, contactID,
			[]models.DealStage{models.StageLead, models.StageContatoFeito}, models.StagePropostaEnviada)

	case models.IntentInterested:
		if lead != nil && lead.Status != models.LeadQualified &&
			lead.Status != models.LeadDisqualified && lead.Status != models.LeadConverted {
			rc.setLeadStatus(&actions, lead, models.LeadQualified)
		}
		rc.createTask(&actions, models.Task{
			OwnerID:   ownerID,
			LeadID:    leadID,
			ContactID: contactID,
			Title:     "Responder lead interessado",
			Priority:  models.TaskHigh,
			DueDate:   Pointer(time.Now().Add(24 * time.Hour)),
		})

	case models.IntentNotInterested:
		if lead != nil && lead.Status != models.LeadDisqualified {
			rc.setLeadStatus(&actions, lead, models.LeadDisqualified)
		}

	case models.IntentOutOfOffice:
		rc.createTask(&actions, models.Task{
			OwnerID:   ownerID,
			LeadID:    leadID,
			ContactID: contactID,
			Title:     "Retomar contato após ausência",
			Priority:  models.TaskLow,
			DueDate:   Pointer(time.Now().Add(7 * 24 * time.Hour)),
		})

	case models.IntentUnsubscribe:
		rc.optOut(&actions, lead, contact)

	case models.IntentOther:
		// activity log only, recorded by the caller
	}

	return actions
}

func targetIdentity(lead *models.Lead, contact *models.Contact) (ownerID uint, leadID, contactID *uint) {
	if lead != nil {
		return lead.OwnerID, &lead.ID, nil
	}
	if contact != nil {
		return contact.OwnerID, nil, &contact.ID
	}
	return 0, nil, nil
}

func (rc *ReplyClassifier) createTask(actions *[]string, task models.Task) {
	if err := rc.DB.Create(&task).Error; err != nil {
		rc.Logger.Printf("Failed to create task %q: %v", task.Title, err)
		return
	}
	*actions = append(*actions, "task_created:"+task.Title)
}

func (rc *ReplyClassifier) setLeadStatus(actions *[]string, lead *models.Lead, status models.LeadStatus) {
	if err := rc.DB.Model(&models.Lead{}).Where("id = ?", lead.ID).
		Update("status", status).Error; err != nil {
		rc.Logger.Printf("Failed to update lead %d status: %v", lead.ID, err)
		return
	}
	lead.Status = status
	*actions = append(*actions, "lead_status:"+string(status))
}

func (rc *ReplyClassifier) advanceDeals(actions *[]string, leadID, contactID *uint, from []models.DealStage, to models.DealStage) {
	q := rc.DB.Model(&models.Deal{}).Where("stage IN ?", from)
	switch {
	case contactID != nil:
		q = q.Where("contact_id = ?", *contactID)
	case leadID != nil:
		q = q.Where("lead_id = ?", *leadID)
	default:
		return
	}

	res := q.Update("stage", to)
	if res.Error != nil {
		rc.Logger.Printf("Failed to advance deals to %s: %v", to, res.Error)
		return
	}
	if res.RowsAffected > 0 {
		*actions = append(*actions, "deal_stage:"+string(to))
	}
}

func (rc *ReplyClassifier) optOut(actions *[]string, lead *models.Lead, contact *models.Contact) {
	var email, phone string
	if lead != nil {
		email, phone = lead.Email, lead.Phone
	} else if contact != nil {
		email, phone = contact.Email, contact.Phone
	}
	if email == "" && phone == "" {
		return
	}

	entry := models.UnsubscribeEntry{
		Email:  strings.ToLower(email),
		Phone:  phone,
		Reason: "reply requested opt-out",
		Source: "reply",
	}
	if err := rc.DB.Where("email = ? AND phone = ?", entry.Email, entry.Phone).
		FirstOrCreate(&entry).Error; err != nil {
		rc.Logger.Printf("Failed to record unsubscribe entry: %v", err)
		return
	}
	*actions = append(*actions, "unsubscribed")

	q := rc.DB.Model(&models.Enrollment{}).Where("status = ?", models.EnrollmentActive)
	switch {
	case lead != nil:
		q = q.Where("lead_id = ?", lead.ID)
	case contact != nil:
		q = q.Where("contact_id = ?", contact.ID)
	}
	res := q.Updates(map[string]interface{}{
		"status":        models.EnrollmentUnsubscribed,
		"next_step_due": nil,
		"completed_at":  time.Now(),
	})
	if res.Error != nil {
		rc.Logger.Printf("Failed to close enrollments on opt-out: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		*actions = append(*actions, fmt.Sprintf("enrollments_unsubscribed:%d", res.RowsAffected))
	}
}

func endOfToday() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
}
