package provider

import (
	"encoding/json"
	"fmt"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

const (
	SyntheticStoreName  = "SUPERMERCADO EXEMPLO"
	SyntheticStoreTaxID = "12345678000100"
)

// syntheticNote is the fixed development note served when no provider is configured.
func syntheticNote(key domain.AccessKey) map[string]any {
	return map[string]any{
		"access_key": key.String(),
		"synthetic":  true,
		"store": map[string]any{
			"name": SyntheticStoreName,
			"cnpj": SyntheticStoreTaxID,
		},
		"emitted_at": "2024-04-12T15:33:00",
		"subtotal":   json.Number("47.00"),
		"tax":        json.Number("2.30"),
		"total":      json.Number("49.30"),
		"items": []any{
			map[string]any{
				"description": "ARROZ TIPO 1 5KG",
				"quantity":    json.Number("1"),
				"unit_price":  json.Number("25.50"),
				"total_price": json.Number("25.50"),
				"tax_value":   json.Number("1.20"),
			},
			map[string]any{
				"description": "FEIJAO PRETO 1KG",
				"quantity":    json.Number("2"),
				"unit_price":  json.Number("8.50"),
				"total_price": json.Number("17.00"),
				"tax_value":   json.Number("0.85"),
			},
			map[string]any{
				"description": "ACUCAR CRISTAL 1KG",
				"quantity":    json.Number("1"),
				"unit_price":  json.Number("4.50"),
				"total_price": json.Number("4.50"),
				"tax_value":   json.Number("0.25"),
			},
		},
	}
}

func syntheticResult(key domain.AccessKey) (*domain.ProviderQueryResult, error) {
	note := syntheticNote(key)
	raw, err := json.Marshal(note)
	if err != nil {
		return nil, fmt.Errorf("marshal synthetic note: %w", err)
	}
	return &domain.ProviderQueryResult{
		Provider:    domain.ProviderSynthetic,
		AccessKey:   key,
		Payload:     domain.FlatJSONPayload{Body: note},
		Raw:         raw,
		ContentType: "application/json",
		Synthetic:   true,
	}, nil
}
