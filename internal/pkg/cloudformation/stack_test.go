package cloudformation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParameterID(t *testing.T) {
	assert.Equal(t, "PayfastMerchantKey", parameterID("PAYFAST_MERCHANT_KEY"))
	assert.Equal(t, "AdminToken", parameterID("ADMIN_TOKEN"))
	assert.Equal(t, "YocoWebhookSecret", parameterID("YOCO_WEBHOOK_SECRET"))
}

func TestStackProps(t *testing.T) {
	props := StackProps(func(key string) (string, bool) {
		v, ok := map[string]string{"CDK_DEFAULT_ACCOUNT": "123456789012"}[key]
		return v, ok
	})
	assert.Equal(t, Description, *props.Description)
	assert.Contains(t, *props.Description, "reconciliation sweep")
	assert.Equal(t, "af-south-1", *props.Env.Region)
	assert.Equal(t, "123456789012", *props.Env.Account)

	props = StackProps(func(key string) (string, bool) {
		if key == "CDK_DEFAULT_REGION" {
			return "eu-west-1", true
		}
		return "", false
	})
	assert.Equal(t, "eu-west-1", *props.Env.Region)
	assert.Nil(t, props.Env.Account)
}
