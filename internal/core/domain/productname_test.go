package domain

import "testing"

func TestNormalizeProductName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "ARROZ TIPO 1 5KG", want: "arroz"},
		{in: "Feijão Preto 1kg", want: "feijao preto"},
		{in: "  AÇÚCAR  CRISTAL 1,5 KG ", want: "acucar cristal"},
		{in: "REFRIG. COLA 2L PET", want: "refrig cola pet"},
		{in: "LEITE UHT INTEGRAL CX 12 UN", want: "leite uht integral"},
		{in: "12345", want: UnnamedProduct},
		{in: "", want: UnnamedProduct},
	}
	for _, tc := range tests {
		if got := NormalizeProductName(tc.in); got != tc.want {
			t.Fatalf("NormalizeProductName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProductDedupKeyPrefersBarcode(t *testing.T) {
	ean := "7891000100103"
	empty := ""
	if got := (Product{NormalizedName: "leite", Barcode: &ean}).DedupKey(); got != "ean:"+ean {
		t.Fatalf("DedupKey() = %q", got)
	}
	if got := (Product{NormalizedName: "leite", Barcode: &empty}).DedupKey(); got != "name:leite" {
		t.Fatalf("DedupKey() = %q", got)
	}
}
