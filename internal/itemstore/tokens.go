package itemstore

import "math"

// EstimateTextTokens approximates the token count of a text blob as
// ⌈bytes+3⌉/4, the formula used throughout the engine for cheap,
// provider-agnostic token budgeting.
func EstimateTextTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)+3) / 4.0))
}

// EstimateEncryptedReasoningTokens models the known provider behavior
// where an encrypted_content blob of length L contributes
// ⌊max(0, 0.75·L − 650)/4⌋ tokens instead of a byte-based estimate.
func EstimateEncryptedReasoningTokens(encryptedLen int) int {
	v := 0.75*float64(encryptedLen) - 650
	if v < 0 {
		v = 0
	}
	return int(math.Floor(v / 4.0))
}

// EstimateItemTokens sums the textual content of a single item.
func EstimateItemTokens(it Item) int {
	switch it.Kind {
	case KindMessage:
		total := 0
		for _, c := range it.Content {
			switch c.Kind {
			case ContentInputText, ContentOutputText:
				total += EstimateTextTokens(c.Text)
			}
		}
		return total
	case KindReasoning:
		if it.EncryptedContent != "" {
			return EstimateEncryptedReasoningTokens(len(it.EncryptedContent))
		}
		total := 0
		for _, s := range it.Summary {
			total += EstimateTextTokens(s.Text)
		}
		for _, r := range it.ReasoningContent {
			total += EstimateTextTokens(r.Text)
		}
		return total
	case KindFunctionCall:
		return EstimateTextTokens(it.Arguments)
	case KindCustomToolCall:
		return EstimateTextTokens(it.Input)
	case KindFunctionCallOutput, KindCustomToolCallOut:
		return estimatePayloadTokens(it.Output)
	case KindGhostSnapshot:
		return 0 // transient, excluded from prompts and accounting
	default:
		return 0
	}
}

func estimatePayloadTokens(p FunctionCallOutputPayload) int {
	if len(p.Content) > 0 {
		total := 0
		for _, c := range p.Content {
			switch c.Kind {
			case ContentInputText, ContentOutputText:
				total += EstimateTextTokens(c.Text)
			}
		}
		return total
	}
	return EstimateTextTokens(p.Text)
}

// EstimateTokens sums EstimateItemTokens over a sequence.
func EstimateTokens(items []Item) int {
	total := 0
	for _, it := range items {
		total += EstimateItemTokens(it)
	}
	return total
}
