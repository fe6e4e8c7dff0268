package service

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
	checkoutdomain "github.com/smallbiznis/roteiro/internal/checkout/domain"
	ledgerdomain "github.com/smallbiznis/roteiro/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/roteiro/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v74"
)

// Redirects holds the fallback URLs the gateway sends the buyer back to.
type Redirects struct {
	SuccessURL string
	CancelURL  string
}

// BuildParams validates req and maps it onto Stripe checkout parameters.
// The metadata is written on the session and copied onto the payment
// intent or subscription so every later webhook carries it.
func BuildParams(req checkoutdomain.CreateSessionRequest, redirects Redirects) (*stripego.CheckoutSessionParams, error) {
	userID, err := uuid.Parse(strings.TrimSpace(req.UserID))
	if err != nil {
		return nil, checkoutdomain.ErrInvalidUser
	}
	mode := checkoutdomain.Mode(strings.ToLower(strings.TrimSpace(string(req.Mode))))
	if mode != checkoutdomain.ModePayment && mode != checkoutdomain.ModeSubscription {
		return nil, checkoutdomain.ErrInvalidMode
	}
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		return nil, checkoutdomain.ErrInvalidPrice
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return nil, checkoutdomain.ErrInvalidQuantity
	}

	metadata := map[string]string{
		paymentdomain.MetadataUserID: userID.String(),
	}
	if affiliate := strings.TrimSpace(req.AffiliateID); affiliate != "" {
		affiliateID, err := uuid.Parse(affiliate)
		if err != nil {
			return nil, checkoutdomain.ErrInvalidAffiliate
		}
		metadata[paymentdomain.MetadataAffiliateID] = affiliateID.String()
	}
	putIfSet(metadata, paymentdomain.MetadataProductID, req.ProductID)
	putIfSet(metadata, paymentdomain.MetadataProductType, strings.ToLower(req.ProductType))
	putIfSet(metadata, paymentdomain.MetadataSaleID, req.SaleID)

	if mode == checkoutdomain.ModeSubscription {
		planID := strings.TrimSpace(req.PlanID)
		if planID == "" {
			return nil, checkoutdomain.ErrInvalidPlan
		}
		interval, err := ledgerdomain.ParseBillingInterval(req.Interval)
		if err != nil {
			return nil, checkoutdomain.ErrInvalidInterval
		}
		metadata[paymentdomain.MetadataPlanID] = planID
		metadata[paymentdomain.MetadataInterval] = string(interval)
	}

	successURL, err := redirectURL(req.SuccessURL, redirects.SuccessURL)
	if err != nil {
		return nil, err
	}
	cancelURL, err := redirectURL(req.CancelURL, redirects.CancelURL)
	if err != nil {
		return nil, err
	}

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(mode)),
		SuccessURL:        stripego.String(successURL),
		CancelURL:         stripego.String(cancelURL),
		ClientReferenceID: stripego.String(userID.String()),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			Price:    stripego.String(priceID),
			Quantity: stripego.Int64(quantity),
		}},
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	switch mode {
	case checkoutdomain.ModePayment:
		params.PaymentIntentData = &stripego.CheckoutSessionPaymentIntentDataParams{Metadata: copyMetadata(metadata)}
	case checkoutdomain.ModeSubscription:
		params.SubscriptionData = &stripego.CheckoutSessionSubscriptionDataParams{Metadata: copyMetadata(metadata)}
	}
	return params, nil
}

func redirectURL(override, fallback string) (string, error) {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = strings.TrimSpace(fallback)
	}
	if raw == "" {
		return "", checkoutdomain.ErrCheckoutNotConfigured
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", checkoutdomain.ErrInvalidRedirectURL
	}
	return raw, nil
}

func putIfSet(metadata map[string]string, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		metadata[key] = value
	}
}

func copyMetadata(metadata map[string]string) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
