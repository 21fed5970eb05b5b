package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"xianyuagent/app/config"
	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/util/fault"

	_ "embed"

	"github.com/samber/do"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

//go:embed reply_prompt_template.txt
var replyPromptTemplate string

const httpTimeout = 60 * time.Second

var _ reply.Generator = (*Client)(nil)

type Client struct {
	model       llms.Model
	temperature float64
	maxTokens   int
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	model, err := openai.New(
		openai.WithToken(cfg.OpenAI.Token),
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithModel(cfg.OpenAI.Model),
		openai.WithCallback(LogCallbackHandler{}),
		openai.WithHTTPClient(&http.Client{
			Timeout: httpTimeout,
		}),
	)
	if err != nil {
		return nil, fault.Fatal("failed to create llm client", err)
	}

	return NewClient(model, cfg.OpenAI), nil
}

func NewClient(model llms.Model, cfg config.ModelConfig) *Client {
	return &Client{
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *Client) Generate(ctx context.Context, req reply.Request) (string, error) {
	prompt := BuildPrompt(req, time.Now())

	resp, err := c.model.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, prompt),
			llms.TextParts(llms.ChatMessageTypeHuman, req.Message.Text),
		},
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fault.Recoverable("no chat completion found", nil)
	}

	result := strings.TrimSpace(resp.Choices[0].Content)
	result = strings.Trim(result, "\"“”")
	result = strings.TrimSpace(result)

	return result, nil
}

// classify marks credential problems as fatal, everything else is worth a retry.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fault.Recoverable("generation timed out", err)
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"status code: 401", "status code: 403", "invalid api key", "incorrect api key", "unauthorized"} {
		if strings.Contains(msg, marker) {
			return fault.Fatal("llm rejected credentials", err)
		}
	}

	return fault.Recoverable("failed to create chat completion", err)
}

// BuildPrompt fills the reply template for a request.
func BuildPrompt(req reply.Request, now time.Time) string {
	persona := req.Persona

	item := req.ItemID
	if item == "" {
		item = "unknown"
	}

	role := string(req.Role)
	if role == "" {
		role = "buyer"
	}

	topics := strings.Join(persona.Topics, ", ")
	if topics == "" {
		topics = "anything about the item"
	}

	sender := req.Message.SenderName
	if sender == "" {
		sender = req.Message.SenderHandle
	}

	templateValues := map[string]any{
		"persona":      persona.Name,
		"strategy":     persona.Strategy,
		"tone":         persona.Tone,
		"topics":       topics,
		"instructions": persona.Instructions,
		"item":         item,
		"role":         role,
		"negotiation":  formatNegotiation(req.Negotiation),
		"chat_history": conversation.FormatHistory(req.History),
		"now":          now.Format("15:04:05"),
		"sender":       sender,
		"last_message": req.Message.Text,
	}

	// single pass, so placeholders inside buyer text stay literal
	pairs := make([]string, 0, len(templateValues)*2)
	for key, value := range templateValues {
		pairs = append(pairs, "{"+key+"}", fmt.Sprint(value))
	}

	return strings.NewReplacer(pairs...).Replace(replyPromptTemplate)
}

func formatNegotiation(n *reply.NegotiationContext) string {
	if n == nil {
		return "No price negotiation is going on."
	}

	offer := "none yet"
	if n.CurrentOffer != nil {
		offer = formatPrice(*n.CurrentOffer)
	}

	header := fmt.Sprintf("Price negotiation: listed at %s, buyer offer %s.",
		formatPrice(n.ListedPrice), offer)

	var instruction string
	switch n.Outcome {
	case negotiation.OutcomeClarify:
		instruction = fmt.Sprintf("The buyer did not name a clear price. Ask which price they have in mind. The current asking price is %s.",
			formatPrice(n.CounterPrice))
	case negotiation.OutcomeCountered:
		instruction = fmt.Sprintf("Decline the offer politely and counter with exactly %s.", formatPrice(n.CounterPrice))
	case negotiation.OutcomeRepeated:
		instruction = fmt.Sprintf("The buyer repeated a low offer. Hold firm at %s.", formatPrice(n.CounterPrice))
	case negotiation.OutcomeAccepted:
		instruction = fmt.Sprintf("Accept the offer of %s and invite the buyer to place the order.", offer)
	case negotiation.OutcomeAbandoned:
		instruction = "The negotiation is over. Do not offer any further discount."
	default:
		if n.Phase == negotiation.PhaseAccepted {
			instruction = "A price has already been agreed. Do not change it."
		} else if n.Terminal {
			instruction = "The negotiation is over. Do not offer any further discount."
		} else {
			instruction = fmt.Sprintf("The current asking price is %s. Do not go lower.", formatPrice(n.CounterPrice))
		}
	}

	return header + "\n" + instruction
}

func formatPrice(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("¥%d", int64(v))
	}
	return fmt.Sprintf("¥%.2f", v)
}
