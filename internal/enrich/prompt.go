package enrich

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pingme/internal/model"
)

const promptTemplate = `You are an expert blockchain analyst. Analyze this smart contract event and provide insights:

%s

Please provide:
1. A brief summary of what happened
2. The potential impact on users/investors
3. Any recommended actions
4. Rate the urgency (low/medium/high)
5. A user-friendly message explaining the event in simple terms

Format your response as JSON:
{
  "summary": "Brief description of the event",
  "impact": "How this affects users or the ecosystem",
  "recommendations": ["Action 1", "Action 2"],
  "urgency": "low|medium|high",
  "userFriendlyMessage": "Simple explanation for non-technical users"
}`

// Prompt renders the analysis request for ev.
func Prompt(ev model.DomainEvent) string {
	return fmt.Sprintf(promptTemplate, describe(ev))
}

func describe(ev model.DomainEvent) string {
	var payload interface{} = ev.Decoded
	if ev.Decoded == nil {
		payload = map[string]interface{}{"topics": ev.Raw.Topics, "data": ev.Raw.Data}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		data = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("Event Details:\n")
	fmt.Fprintf(&b, "- Event Name: %s\n", ev.EventName)
	fmt.Fprintf(&b, "- Contract: %s (%s)\n", ev.ContractName, ev.ContractAddress)
	fmt.Fprintf(&b, "- Block Number: %d\n", ev.BlockNumber)
	fmt.Fprintf(&b, "- Transaction: %s\n", ev.TxHash)
	fmt.Fprintf(&b, "- Timestamp: %s\n", ev.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Event Data: %s", data)
	return b.String()
}
