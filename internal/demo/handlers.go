package demo

import (
	"errors"
	"fmt"
	"time"

	"github.com/ozandndar/reddis-bullmq/job"
)

// WelcomeEmail is the payload of TypeWelcomeEmail.
type WelcomeEmail struct {
	UserEmail    string          `json:"userEmail"`
	UserName     string          `json:"userName"`
	TemplateData WelcomeTemplate `json:"templateData"`
}

// WelcomeTemplate holds the rendered fields of a welcome email.
type WelcomeTemplate struct {
	WelcomeMessage string `json:"welcomeMessage"`
	ActivationLink string `json:"activationLink"`
}

// EmailVerification is the payload of TypeEmailVerification.
type EmailVerification struct {
	UserEmail         string `json:"userEmail"`
	UserName          string `json:"userName"`
	VerificationToken string `json:"verificationToken"`
}

// Newsletter is the payload of TypeNewsletter.
type Newsletter struct {
	Subscribers []string `json:"subscribers"`
	Subject     string   `json:"subject"`
	Content     string   `json:"content"`
}

// LoginSMS is the payload of TypeLoginSMS.
type LoginSMS struct {
	PhoneNumber      string `json:"phoneNumber"`
	VerificationCode string `json:"verificationCode"`
	UserName         string `json:"userName"`
}

// PurchaseConfirmation is the payload of TypePurchaseConfirmation.
type PurchaseConfirmation struct {
	OrderID       string       `json:"orderId"`
	CustomerEmail string       `json:"customerEmail"`
	CustomerName  string       `json:"customerName"`
	OrderDetails  OrderDetails `json:"orderDetails"`
}

// OrderDetails summarises an order.
type OrderDetails struct {
	Total float64  `json:"total"`
	Items []string `json:"items"`
}

// Result is the value a demo handler returns on success.
type Result struct {
	Status           string `json:"status"`
	MessageID        string `json:"messageId,omitempty"`
	Email            string `json:"email,omitempty"`
	PhoneNumber      string `json:"phoneNumber,omitempty"`
	VerificationLink string `json:"verificationLink,omitempty"`
	OrderID          string `json:"orderId,omitempty"`
	ReceiptID        string `json:"receiptId,omitempty"`
	TotalSent        int    `json:"totalSent,omitempty"`
	Timestamp        string `json:"timestamp"`
}

// Failure rates of the simulated services.
const (
	welcomeFailureRate      = 0.05
	verificationFailureRate = 0.03
	smsFailureRate          = 0.02
	purchaseFailureRate     = 0.05
)

const newsletterBatchSize = 10

var (
	errEmailService        = errors.New("email service temporarily unavailable")
	errVerificationService = errors.New("failed to send verification email")
	errSMSGateway          = errors.New("sms gateway unavailable")
	errPurchaseService     = errors.New("failed to process purchase confirmation")
)

// fail logs the failure on the job and returns err.
func fail(ctx *job.Context, prefix string, err error) (any, error) {
	ctx.Logf("%s: %v", prefix, err)
	return nil, err
}

func (h *Handlers) welcomeEmail(ctx *job.Context, p WelcomeEmail) (any, error) {
	ctx.Logf("Starting welcome email for %s", p.UserEmail)
	ctx.Progress(10)

	steps := []struct {
		line     string
		d        time.Duration
		progress int
	}{
		{"Rendering email template...", 800 * time.Millisecond, 30},
		{"Validating email address...", 500 * time.Millisecond, 50},
		{"Sending email via email service...", 1200 * time.Millisecond, 80},
	}
	for _, s := range steps {
		if err := h.step(ctx, s.line, s.d, s.progress); err != nil {
			return fail(ctx, "Failed to send email", err)
		}
	}
	if h.roll() < welcomeFailureRate {
		return fail(ctx, "Failed to send email", errEmailService)
	}

	ctx.Log("Email delivered successfully")
	ctx.Progress(100)
	now := h.now()
	return Result{
		Status:    "delivered",
		Email:     p.UserEmail,
		MessageID: fmt.Sprintf("msg_%d", now.UnixMilli()),
		Timestamp: h.timestamp(),
	}, nil
}

func (h *Handlers) emailVerification(ctx *job.Context, p EmailVerification) (any, error) {
	ctx.Logf("Sending email verification to %s", p.UserEmail)
	ctx.Progress(15)

	link := "https://app.example.com/verify?token=" + p.VerificationToken
	if err := h.step(ctx, "Generated verification link", 0, 30); err != nil {
		return fail(ctx, "Failed to send verification email", err)
	}
	if err := h.step(ctx, "Rendering verification email template...", 600*time.Millisecond, 60); err != nil {
		return fail(ctx, "Failed to send verification email", err)
	}
	if err := h.step(ctx, "Sending verification email...", 900*time.Millisecond, 90); err != nil {
		return fail(ctx, "Failed to send verification email", err)
	}
	if h.roll() < verificationFailureRate {
		return fail(ctx, "Failed to send verification email", errVerificationService)
	}

	ctx.Log("Verification email sent successfully")
	ctx.Progress(100)
	return Result{
		Status:           "sent",
		Email:            p.UserEmail,
		VerificationLink: link,
		Timestamp:        h.timestamp(),
	}, nil
}

func (h *Handlers) newsletter(ctx *job.Context, p Newsletter) (any, error) {
	total := len(p.Subscribers)
	ctx.Logf("Starting newsletter to %d subscribers", total)
	ctx.Progress(5)

	processed := 0
	for i := 0; i < total; i += newsletterBatchSize {
		batch := min(newsletterBatchSize, total-i)
		processed += batch
		line := fmt.Sprintf("Processing batch %d...", i/newsletterBatchSize+1)
		if err := h.step(ctx, line, 600*time.Millisecond, min(95, processed*100/total)); err != nil {
			return fail(ctx, "Newsletter failed", err)
		}
	}

	ctx.Log("Newsletter campaign completed")
	ctx.Progress(100)
	return Result{
		Status:    "completed",
		TotalSent: total,
		Timestamp: h.timestamp(),
	}, nil
}

func (h *Handlers) loginSMS(ctx *job.Context, p LoginSMS) (any, error) {
	ctx.Logf("Sending login SMS to %s", p.PhoneNumber)
	ctx.Progress(20)

	if err := h.step(ctx, "Validating phone number...", 300*time.Millisecond, 40); err != nil {
		return fail(ctx, "Failed to send login SMS", err)
	}
	if err := h.step(ctx, "Sending SMS via SMS gateway...", 800*time.Millisecond, 80); err != nil {
		return fail(ctx, "Failed to send login SMS", err)
	}
	if h.roll() < smsFailureRate {
		return fail(ctx, "Failed to send login SMS", errSMSGateway)
	}

	ctx.Log("Login SMS sent successfully")
	ctx.Progress(100)
	now := h.now()
	return Result{
		Status:      "sent",
		PhoneNumber: p.PhoneNumber,
		MessageID:   fmt.Sprintf("sms_%d", now.UnixMilli()),
		Timestamp:   h.timestamp(),
	}, nil
}

func (h *Handlers) purchaseConfirmation(ctx *job.Context, p PurchaseConfirmation) (any, error) {
	ctx.Logf("Processing purchase confirmation for order %s", p.OrderID)
	ctx.Progress(10)

	steps := []struct {
		line     string
		d        time.Duration
		progress int
	}{
		{"Generating purchase receipt...", 700 * time.Millisecond, 30},
		{"Updating inventory...", 500 * time.Millisecond, 50},
		{"Sending purchase confirmation email...", 1000 * time.Millisecond, 80},
	}
	for _, s := range steps {
		if err := h.step(ctx, s.line, s.d, s.progress); err != nil {
			return fail(ctx, "Failed to process purchase", err)
		}
	}
	if h.roll() < purchaseFailureRate {
		return fail(ctx, "Failed to process purchase", errPurchaseService)
	}

	ctx.Log("Purchase confirmation completed")
	ctx.Progress(100)
	now := h.now()
	return Result{
		Status:    "completed",
		OrderID:   p.OrderID,
		ReceiptID: fmt.Sprintf("receipt_%d", now.UnixMilli()),
		Timestamp: h.timestamp(),
	}, nil
}
