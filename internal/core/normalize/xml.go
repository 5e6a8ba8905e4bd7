package normalize

import (
	"fmt"
	"strings"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
)

// fromXML reads an NF-e/NFC-e document rooted at nfeProc, NFe or infNFe.
func fromXML(root *domain.XMLNode) (draft, error) {
	inf := findInfNFe(root)
	if inf == nil {
		return draft{}, fmt.Errorf("xml: infNFe not found")
	}

	d := draft{
		accessKey:  strings.TrimPrefix(inf.Attr("Id"), "NFe"),
		emittedAt:  firstText(inf, []string{"ide", "dhEmi"}, []string{"ide", "dEmi"}),
		storeName:  firstText(inf, []string{"emit", "xNome"}, []string{"emit", "xFant"}),
		storeTaxID: firstText(inf, []string{"emit", "CNPJ"}, []string{"emit", "CPF"}),
	}
	if d.accessKey == "" {
		d.accessKey = root.TextAt("protNFe", "infProt", "chNFe")
	}

	var err error
	if d.subtotal, err = optionalMoney(textOrNil(inf, "total", "ICMSTot", "vProd"), "vProd"); err != nil {
		return draft{}, err
	}
	if d.total, err = optionalMoney(textOrNil(inf, "total", "ICMSTot", "vNF"), "vNF"); err != nil {
		return draft{}, err
	}
	if d.tax, err = optionalMoney(textOrNil(inf, "total", "ICMSTot", "vTotTrib"), "vTotTrib"); err != nil {
		return draft{}, err
	}

	for i, det := range inf.ChildrenNamed("det") {
		prod := det.Child("prod")
		if prod == nil {
			return draft{}, fmt.Errorf("xml: det %d without prod", i+1)
		}
		barcode := prod.TextAt("cEAN")
		if normalizeBarcode(barcode) == "" {
			barcode = prod.TextAt("cEANTrib")
		}
		item, err := buildItem(i+1, rawItem{
			description: prod.TextAt("xProd"),
			quantity:    textOrNil(prod, "qCom"),
			unitPrice:   textOrNil(prod, "vUnCom"),
			lineTotal:   textOrNil(prod, "vProd"),
			tax:         textOrNil(det, "imposto", "vTotTrib"),
			barcode:     barcode,
		})
		if err != nil {
			return draft{}, err
		}
		d.items = append(d.items, item)
	}
	return d, nil
}

func findInfNFe(root *domain.XMLNode) *domain.XMLNode {
	if root == nil {
		return nil
	}
	switch root.Name {
	case "infNFe":
		return root
	case "NFe":
		return root.Child("infNFe")
	case "nfeProc":
		return root.Path("NFe", "infNFe")
	}
	return nil
}

func firstText(n *domain.XMLNode, paths ...[]string) string {
	for _, p := range paths {
		if s := n.TextAt(p...); s != "" {
			return s
		}
	}
	return ""
}

// textOrNil keeps "absent" distinct from "empty" for parseDecimal.
func textOrNil(n *domain.XMLNode, path ...string) any {
	if s := n.TextAt(path...); s != "" {
		return s
	}
	return nil
}
