package checkout

import "weddingpay/internal/models"

// Mode tells the client how to hand the user off to the wallet.
type Mode string

const (
	ModeRedirect Mode = "redirect"
	ModeManual   Mode = "manual"
)

// Popup size for hosted wallet checkouts.
const (
	checkoutWindowWidth  = 600
	checkoutWindowHeight = 700
)

// Checkout describes how the client should present an intent to the user.
// The launcher never learns whether the user completed payment; that is the
// reconciliation session's job.
type Checkout struct {
	Mode         Mode              `json:"mode"`
	Wallet       models.WalletType `json:"wallet"`
	URL          string            `json:"url,omitempty"`
	WindowName   string            `json:"window_name,omitempty"`
	WindowWidth  int               `json:"window_width,omitempty"`
	WindowHeight int               `json:"window_height,omitempty"`
	Instructions []string          `json:"instructions,omitempty"`
	Reference    string            `json:"reference,omitempty"`
}

var manualInstructions = map[models.WalletType][]string{
	models.WalletGCash: {
		"Open the GCash app and log in.",
		"Tap Pay Bills, then search for the merchant.",
		"Enter the exact amount shown on this page.",
		"Put the reference number below in the account/reference field.",
		"Confirm the payment and keep the receipt.",
	},
	models.WalletMaya: {
		"Open the Maya app and log in.",
		"Tap Pay, then Bills, and choose the merchant.",
		"Enter the exact amount shown on this page.",
		"Put the reference number below in the reference field.",
		"Confirm with your MPIN and keep the receipt.",
	},
	models.WalletGrabPay: {
		"Open the Grab app and go to GrabPay.",
		"Tap Pay and scan the merchant QR code.",
		"Enter the exact amount shown on this page.",
		"Add the reference number below as the payment note.",
		"Confirm the payment and keep the receipt.",
	},
}

var genericInstructions = []string{
	"Open your e-wallet app and log in.",
	"Pay the exact amount shown on this page to the merchant.",
	"Use the reference number below as the payment reference.",
}

// Launcher turns a created intent into the client-side checkout step.
type Launcher struct{}

func NewLauncher() *Launcher { return &Launcher{} }

// Launch returns a redirect descriptor when the intent has a hosted checkout URL,
// and the wallet's fixed manual steps plus the intent reference otherwise.
func (l *Launcher) Launch(intent models.PaymentIntent) Checkout {
	if intent.CheckoutURL != "" {
		return Checkout{
			Mode:         ModeRedirect,
			Wallet:       intent.WalletType,
			URL:          intent.CheckoutURL,
			WindowName:   "wallet_checkout_" + intent.ID,
			WindowWidth:  checkoutWindowWidth,
			WindowHeight: checkoutWindowHeight,
			Reference:    intent.ID,
		}
	}

	steps, ok := manualInstructions[intent.WalletType]
	if !ok {
		steps = genericInstructions
	}
	return Checkout{
		Mode:         ModeManual,
		Wallet:       intent.WalletType,
		Instructions: append([]string(nil), steps...),
		Reference:    intent.ID,
	}
}
