package itemstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateItemTokens_ImageContentContributesNoTokens(t *testing.T) {
	item := Item{
		Kind: KindMessage,
		Role: RoleUser,
		Content: []ContentItem{
			InputText("describe this"),
			InputImage("data:image/png;base64,aaaa"),
		},
	}
	assert.Equal(t, EstimateTextTokens("describe this"), EstimateItemTokens(item))
}

func TestEstimatePayloadTokens_ImageContentContributesNoTokens(t *testing.T) {
	payload := FunctionCallOutputPayload{
		Content: []ContentItem{
			OutputText("ok"),
			InputImage("data:image/png;base64,bbbb"),
		},
	}
	assert.Equal(t, EstimateTextTokens("ok"), estimatePayloadTokens(payload))
}
