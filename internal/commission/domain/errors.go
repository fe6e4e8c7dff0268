package domain

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidRate        = errors.New("invalid_rate")
	ErrInvalidAttribution = errors.New("invalid_attribution")
	ErrInvalidProductType = errors.New("invalid_product_type")
)
