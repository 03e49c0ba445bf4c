package checkout

import (
	"testing"

	"weddingpay/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestLaunch_RedirectWhenCheckoutURLPresent(t *testing.T) {
	intent := models.PaymentIntent{
		ID:          "src_abc123",
		WalletType:  models.WalletGCash,
		CheckoutURL: "https://pay.example.test/checkout/src_abc123",
	}

	c := NewLauncher().Launch(intent)

	assert.Equal(t, ModeRedirect, c.Mode)
	assert.Equal(t, intent.CheckoutURL, c.URL)
	assert.Equal(t, "wallet_checkout_src_abc123", c.WindowName)
	assert.Equal(t, 600, c.WindowWidth)
	assert.Equal(t, 700, c.WindowHeight)
	assert.Empty(t, c.Instructions)
}

func TestLaunch_ManualStepsPerWallet(t *testing.T) {
	for _, w := range []models.WalletType{models.WalletGCash, models.WalletMaya, models.WalletGrabPay} {
		t.Run(string(w), func(t *testing.T) {
			c := NewLauncher().Launch(models.PaymentIntent{ID: "src_m", WalletType: w})

			assert.Equal(t, ModeManual, c.Mode)
			assert.Empty(t, c.URL)
			assert.Equal(t, "src_m", c.Reference)
			assert.Equal(t, manualInstructions[w], c.Instructions)
		})
	}
}

func TestLaunch_UnknownWalletGetsGenericSteps(t *testing.T) {
	c := NewLauncher().Launch(models.PaymentIntent{ID: "src_x", WalletType: "shopeepay"})
	assert.Equal(t, genericInstructions, c.Instructions)
}

func TestLaunch_InstructionsAreCopied(t *testing.T) {
	c := NewLauncher().Launch(models.PaymentIntent{ID: "src_m", WalletType: models.WalletGCash})
	c.Instructions[0] = "changed"
	assert.NotEqual(t, "changed", manualInstructions[models.WalletGCash][0])
}
