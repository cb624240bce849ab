package ai

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "gemini-1.5-flash"
	sqlToolName  = "run_readonly_sql"
	// maxToolCalls stops a model that keeps asking for queries.
	maxToolCalls = 5
)

// Answer is the assistant's reply and the tokens it cost.
type Answer struct {
	Text        string `json:"response"`
	TotalTokens int    `json:"totalTokens"`
}

// AIService holds the Gemini client and the read-only database connection.
type AIService struct {
	client *genai.Client
	model  string
	runner *QueryRunner
	logger *zap.Logger
}

// NewAIService initializes the Gemini client.
func NewAIService(ctx context.Context, apiKey, model string, dbReadOnly *sql.DB, logger *zap.Logger) (*AIService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &AIService{
		client: client,
		model:  model,
		runner: NewQueryRunner(dbReadOnly),
		logger: logger.Named("ai"),
	}, nil
}

func (s *AIService) Close() error {
	return s.client.Close()
}

// Ask answers an admin's question about the store, querying the database
// through the read-only SQL tool when the model asks for it.
func (s *AIService) Ask(ctx context.Context, question string) (*Answer, error) {
	model := s.client.GenerativeModel(s.model)

	// 1. --- Tools ---
	model.Tools = []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        sqlToolName,
			Description: "Executes a READ-ONLY SQL query (SELECT only) to answer questions.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"query": {
						Type:        genai.TypeString,
						Description: "The MySQL SELECT query to execute.",
					},
				},
				Required: []string{"query"},
			},
		}},
	}}

	// 2. --- System instructions ---
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemPrompt())},
	}

	// 3. --- Chat ---
	cs := model.StartChat()
	res, err := cs.SendMessage(ctx, genai.Text(question))
	if err != nil {
		return nil, fmt.Errorf("error sending message: %w", err)
	}

	answer := &Answer{}
	for calls := 0; ; calls++ {
		if res.UsageMetadata != nil {
			// Usage is reported for the whole chat so far.
			answer.TotalTokens = int(res.UsageMetadata.TotalTokenCount)
		}
		if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
			answer.Text = "No response."
			return answer, nil
		}

		part := res.Candidates[0].Content.Parts[0]
		funcCall, ok := part.(genai.FunctionCall)
		if !ok {
			answer.Text = fmt.Sprintf("%v", part)
			return answer, nil
		}
		if funcCall.Name != sqlToolName {
			return nil, fmt.Errorf("unknown function: %s", funcCall.Name)
		}
		if calls >= maxToolCalls {
			return nil, fmt.Errorf("assistant exceeded %d queries", maxToolCalls)
		}

		// 4. --- Tool call ---
		query, _ := funcCall.Args["query"].(string)
		s.logger.Info("assistant running sql", zap.String("query", query))
		result, err := s.runner.Run(ctx, query)
		if err != nil {
			result = fmt.Sprintf("SQL Error: %v", err)
		}

		res, err = cs.SendMessage(ctx, genai.FunctionResponse{
			Name:     sqlToolName,
			Response: map[string]interface{}{"result": result},
		})
		if err != nil {
			return nil, fmt.Errorf("tool response error: %w", err)
		}
	}
}

// SystemPrompt describes the assistant's job and the schema it can query.
func SystemPrompt() string {
	return fmt.Sprintf(`You are the ToyForge back-office analytics assistant talking to a store administrator.
Access: MySQL database through %s.
Schema:
%s
Rules: SELECT only. Money columns are DECIMAL rupees. Orders in status pending_payment, cancelled or expired are not revenue. Be concise.`, sqlToolName, schemaDescription)
}

const schemaDescription = `- users (id, role [customer, admin], status [active, suspended], email, full_name, created_at)
- categories (id, name, slug, parent_id)
- products (id, slug, name, brand, category_id, status [draft, active, archived], created_at)
- product_variants (id, product_id, sku, attributes JSON, price, sale_price, stock, is_active)
- carts (id, user_id), cart_items (id, cart_id, variant_id, quantity)
- addresses (id, user_id, city, state, pincode, country)
- coupons (id, code, discount_type [percentage, fixed], discount_value, max_discount, min_order_value, usage_limit, per_user_limit, used_count, starts_at, expires_at, is_active)
- coupon_redemptions (id, coupon_id, user_id, order_id, created_at)
- orders (id, order_number, user_id, status [pending_payment, placed, processing, shipped, delivered, cancelled, expired], payment_method [razorpay, cod], payment_status [pending, paid, failed, cod, refunded], subtotal, discount, tax, shipping, total, coupon_code, created_at, paid_at)
- order_items (id, order_id, product_id, variant_id, product_name, sku, quantity, unit_price, line_total)
- payments (id, order_id, razorpay_order_id, razorpay_payment_id, amount_minor, status [created, captured, failed, refunded, refund_pending], error_code)
- showcase_sections (id, title, slug, layout, position, starts_at, ends_at, is_active), showcase_products (section_id, product_id, position)`
