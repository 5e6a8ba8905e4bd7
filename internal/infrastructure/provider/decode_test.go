package provider

import (
	"errors"
	"testing"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

func TestDecodeXMLHonorsLatin1Declaration(t *testing.T) {
	body := append([]byte(`<?xml version="1.0" encoding="ISO-8859-1"?><infNFe><emit><xNome>A`), 0xC7, 0xC3, 'O')
	body = append(body, []byte(`</xNome></emit></infNFe>`)...)

	payload, err := decodePayload("text/xml", body)
	if err != nil {
		t.Fatalf("decodePayload() error = %v", err)
	}
	root := payload.(domain.XMLPayload).Root
	if got := root.TextAt("emit", "xNome"); got != "AÇÃO" {
		t.Fatalf("xNome = %q, want %q", got, "AÇÃO")
	}
}

func TestDecodeRejectsDoctypeAndErrorDocuments(t *testing.T) {
	_, err := decodePayload("application/xml", []byte(`<!DOCTYPE x [<!ENTITY e "boom">]><x>&e;</x>`))
	if !errors.Is(err, domain.ErrUnrecognizedFormat) {
		t.Fatalf("expected unrecognized format for doctype, got %v", err)
	}

	_, err = decodePayload("application/xml", []byte(`<erro>chave invalida</erro>`))
	if !errors.Is(err, domain.ErrProviderApplication) {
		t.Fatalf("expected application error, got %v", err)
	}
}

func TestDecodeJSONErrorFlags(t *testing.T) {
	cases := []struct {
		body string
		kind error
	}{
		{`{"error": {"message": "quota"}}`, domain.ErrProviderApplication},
		{`{"retorno": {"erro": "nota cancelada"}}`, domain.ErrProviderApplication},
		{`{"error": false, "items": []}`, nil},
		{`[1, 2, 3]`, domain.ErrUnrecognizedFormat},
		{`{"a": 1} {"b": 2}`, domain.ErrUnrecognizedFormat},
		{"   ", domain.ErrUnrecognizedFormat},
	}
	for _, tc := range cases {
		_, err := decodePayload("application/json", []byte(tc.body))
		if tc.kind == nil {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tc.body, err)
			}
			continue
		}
		if !errors.Is(err, tc.kind) {
			t.Errorf("%s: expected %v, got %v", tc.body, tc.kind, err)
		}
	}
}
