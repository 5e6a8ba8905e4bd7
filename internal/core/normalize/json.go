package normalize

import "fmt"

// fromWrappedJSON reads the dialect that nests the note under "retorno".
func fromWrappedJSON(body map[string]any) (draft, error) {
	ret := mapOf(body, "retorno")
	if ret == nil {
		return draft{}, fmt.Errorf("json: retorno object not found")
	}

	issuer := mapOf(ret, "emitente")
	d := draft{
		accessKey: stringOf(ret, "chave", "chave_acesso"),
		emittedAt: stringOf(ret, "data_emissao", "dataEmissao", "dhEmi"),
	}
	if issuer != nil {
		d.storeName = stringOf(issuer, "razao_social", "nome", "nome_fantasia")
		d.storeTaxID = stringOf(issuer, "cnpj", "CNPJ", "cpf")
	}

	var err error
	if d.subtotal, err = optionalMoney(valueOf(ret, "subtotal", "valor_produtos"), "subtotal"); err != nil {
		return draft{}, err
	}
	if d.tax, err = optionalMoney(valueOf(ret, "total_impostos", "valor_impostos"), "total_impostos"); err != nil {
		return draft{}, err
	}
	if d.total, err = optionalMoney(valueOf(ret, "total", "valor_total"), "total"); err != nil {
		return draft{}, err
	}

	for i, p := range listOf(ret, "produto", "produtos") {
		item, err := buildItem(i+1, rawItem{
			description: stringOf(p, "descricao", "desc"),
			quantity:    valueOf(p, "quantidade", "qtd"),
			unitPrice:   valueOf(p, "valor_unitario", "preco_unitario"),
			lineTotal:   valueOf(p, "valor_total", "preco_total"),
			tax:         valueOf(p, "valor_imposto", "imposto"),
			barcode:     stringOf(p, "codigo_barras", "ean"),
		})
		if err != nil {
			return draft{}, err
		}
		d.items = append(d.items, item)
	}
	return d, nil
}

// fromFlatJSON reads the dialect with top-level fields.
func fromFlatJSON(body map[string]any) (draft, error) {
	if body == nil {
		return draft{}, fmt.Errorf("json: empty body")
	}
	d := draft{
		accessKey: stringOf(body, "access_key", "chave"),
		emittedAt: stringOf(body, "emitted_at", "issued_at"),
	}
	if store := mapOf(body, "store"); store != nil {
		d.storeName = stringOf(store, "name")
		d.storeTaxID = stringOf(store, "cnpj", "tax_id")
	}

	var err error
	if d.subtotal, err = optionalMoney(valueOf(body, "subtotal"), "subtotal"); err != nil {
		return draft{}, err
	}
	if d.tax, err = optionalMoney(valueOf(body, "tax", "total_tax"), "tax"); err != nil {
		return draft{}, err
	}
	if d.total, err = optionalMoney(valueOf(body, "total", "total_value"), "total"); err != nil {
		return draft{}, err
	}

	for i, it := range listOf(body, "items") {
		item, err := buildItem(i+1, rawItem{
			description: stringOf(it, "description"),
			quantity:    valueOf(it, "quantity"),
			unitPrice:   valueOf(it, "unit_price"),
			lineTotal:   valueOf(it, "total_price", "line_total"),
			tax:         valueOf(it, "tax_value", "tax"),
			barcode:     stringOf(it, "barcode", "ean"),
		})
		if err != nil {
			return draft{}, err
		}
		d.items = append(d.items, item)
	}
	return d, nil
}
