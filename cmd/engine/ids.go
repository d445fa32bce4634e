package main

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func generateTaskID() string {
	return uuid.NewString()
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
